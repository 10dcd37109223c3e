package resource

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Annotation keys embedded into managed resource bodies before apply.
// Their presence marks an object as owned by this reconciler.
const (
	AnnotationIntegration = "reconcile.stategraph.sh/integration"
	AnnotationVersion     = "reconcile.stategraph.sh/integration-version"
	AnnotationContentHash = "reconcile.stategraph.sh/content-hash"
	AnnotationCaller      = "reconcile.stategraph.sh/caller"
	AnnotationUpdate      = "reconcile.stategraph.sh/update"
)

// Annotations written by the API server or by kubectl that carry no intent
// and must not participate in comparison or hashing.
var serverAnnotations = []string{
	"kubectl.kubernetes.io/last-applied-configuration",
	"deployment.kubernetes.io/revision",
}

// Managed wraps an arbitrary structured resource body with provenance
// metadata and content hashing. Two Managed values are semantically equal
// iff their canonicalized bodies are equal; the content hash is a fast-path
// alternative to the full structural comparison.
type Managed struct {
	body               *unstructured.Unstructured
	Integration        string
	IntegrationVersion string
	CallerName         string
	ErrorDetails       string

	hash string // lazily computed
}

// New wraps body as a managed resource attributed to the given integration.
func New(body *unstructured.Unstructured, integration, version string) *Managed {
	return &Managed{
		body:               body,
		Integration:        integration,
		IntegrationVersion: version,
	}
}

// NewWithCaller wraps body and records the caller identity that produced it.
func NewWithCaller(body *unstructured.Unstructured, integration, version, caller string) *Managed {
	m := New(body, integration, version)
	m.CallerName = caller
	return m
}

func (m *Managed) Body() *unstructured.Unstructured { return m.body }

func (m *Managed) Name() string { return m.body.GetName() }

func (m *Managed) Kind() string { return m.body.GetKind() }

// Canonicalize returns a normalized copy of body: server-managed fields and
// provenance annotations are stripped, and the result is round-tripped
// through JSON so numeric types compare consistently regardless of whether
// the body came from the API server or from parsed configuration.
func Canonicalize(body map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range body {
		if k == "status" {
			continue
		}
		out[k] = v
	}

	if md, ok := body["metadata"].(map[string]interface{}); ok {
		metadata := map[string]interface{}{}
		for k, v := range md {
			switch k {
			case "resourceVersion", "uid", "creationTimestamp", "generation",
				"managedFields", "selfLink", "ownerReferences":
				continue
			}
			metadata[k] = v
		}
		if anns, ok := metadata["annotations"].(map[string]interface{}); ok {
			filtered := map[string]interface{}{}
			for k, v := range anns {
				if isProvenanceAnnotation(k) || isServerAnnotation(k) {
					continue
				}
				filtered[k] = v
			}
			if len(filtered) == 0 {
				delete(metadata, "annotations")
			} else {
				metadata["annotations"] = filtered
			}
		}
		out["metadata"] = metadata
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return out
	}
	var normalized map[string]interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return out
	}
	return normalized
}

// Serialize produces a stable byte representation of a canonicalized body.
// encoding/json sorts map keys, which gives the determinism hashing needs.
func Serialize(body map[string]interface{}) ([]byte, error) {
	return json.Marshal(body)
}

// ContentHash returns the sha256 hex digest of the canonicalized body.
func (m *Managed) ContentHash() (string, error) {
	if m.hash != "" {
		return m.hash, nil
	}
	raw, err := Serialize(Canonicalize(m.body.Object))
	if err != nil {
		return "", fmt.Errorf("serializing %s/%s: %w", m.Kind(), m.Name(), err)
	}
	sum := sha256.Sum256(raw)
	m.hash = hex.EncodeToString(sum[:])
	return m.hash, nil
}

// Annotate returns a deep copy of the body with the provenance annotations
// set. Only bodies headed for create/apply/replace are annotated; bodies
// used for comparison never are.
func (m *Managed) Annotate() (*unstructured.Unstructured, error) {
	hash, err := m.ContentHash()
	if err != nil {
		return nil, err
	}
	annotated := m.body.DeepCopy()
	anns := annotated.GetAnnotations()
	if anns == nil {
		anns = map[string]string{}
	}
	anns[AnnotationIntegration] = m.Integration
	anns[AnnotationVersion] = m.IntegrationVersion
	anns[AnnotationContentHash] = hash
	anns[AnnotationUpdate] = time.Now().UTC().Format(time.RFC3339)
	if m.CallerName != "" {
		anns[AnnotationCaller] = m.CallerName
	}
	annotated.SetAnnotations(anns)
	return annotated, nil
}

// HasProvenance reports whether the body carries this reconciler's
// provenance annotations, i.e. whether it is a managed object.
func (m *Managed) HasProvenance() bool {
	anns := m.body.GetAnnotations()
	return anns[AnnotationIntegration] != "" && anns[AnnotationContentHash] != ""
}

// Caller returns the caller identity recorded on the body, if any.
func (m *Managed) Caller() string {
	return m.body.GetAnnotations()[AnnotationCaller]
}

// HasValidHash recomputes the content hash over the live body and compares
// it to the hash stored in the provenance annotation. A mismatch means the
// object was hand-edited after it was annotated; it is still managed, but
// must be re-applied rather than silently skipped.
func (m *Managed) HasValidHash() bool {
	stored := m.body.GetAnnotations()[AnnotationContentHash]
	if stored == "" {
		return false
	}
	computed, err := m.ContentHash()
	if err != nil {
		return false
	}
	return stored == computed
}

// Equal reports structural equality after canonicalization. It is
// independent of the content hash.
func (m *Managed) Equal(other *Managed) bool {
	if other == nil {
		return false
	}
	return equality.Semantic.DeepEqual(
		Canonicalize(m.body.Object),
		Canonicalize(other.body.Object),
	)
}

// HasOwnerReference reports whether the object is owned by another object
// and therefore garbage-collected transitively with it.
func (m *Managed) HasOwnerReference() bool {
	return len(m.body.GetOwnerReferences()) > 0
}

func isProvenanceAnnotation(key string) bool {
	return strings.HasPrefix(key, "reconcile.stategraph.sh/")
}

func isServerAnnotation(key string) bool {
	for _, k := range serverAnnotations {
		if key == k {
			return true
		}
	}
	return false
}
