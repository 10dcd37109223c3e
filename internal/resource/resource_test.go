package resource

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func configMap(name string, data map[string]interface{}) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "ConfigMap",
		"metadata": map[string]interface{}{
			"name": name,
		},
		"data": data,
	}}
}

func TestCanonicalize_StripsServerFields(t *testing.T) {
	body := map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "ConfigMap",
		"metadata": map[string]interface{}{
			"name":              "cm",
			"namespace":         "ns",
			"resourceVersion":   "12345",
			"uid":               "abc-def",
			"creationTimestamp": "2024-01-01T00:00:00Z",
			"generation":        int64(3),
			"managedFields":     []interface{}{map[string]interface{}{"manager": "x"}},
			"ownerReferences":   []interface{}{map[string]interface{}{"name": "owner"}},
			"annotations": map[string]interface{}{
				"kubectl.kubernetes.io/last-applied-configuration": "{}",
				AnnotationIntegration: "integ",
				AnnotationContentHash: "deadbeef",
				"keep/me":             "yes",
			},
		},
		"data":   map[string]interface{}{"k": "v"},
		"status": map[string]interface{}{"phase": "Active"},
	}

	canonical := Canonicalize(body)

	if _, found := canonical["status"]; found {
		t.Error("Expected status to be stripped")
	}
	metadata, ok := canonical["metadata"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected metadata map")
	}
	for _, field := range []string{"resourceVersion", "uid", "creationTimestamp", "generation", "managedFields", "ownerReferences"} {
		if _, found := metadata[field]; found {
			t.Errorf("Expected metadata.%s to be stripped", field)
		}
	}
	anns, ok := metadata["annotations"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected annotations to survive with one user key")
	}
	if len(anns) != 1 || anns["keep/me"] != "yes" {
		t.Errorf("Expected only user annotation to survive, got %v", anns)
	}
}

func TestCanonicalize_DropsEmptyAnnotations(t *testing.T) {
	body := map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "ConfigMap",
		"metadata": map[string]interface{}{
			"name": "cm",
			"annotations": map[string]interface{}{
				AnnotationIntegration: "integ",
			},
		},
	}

	canonical := Canonicalize(body)
	metadata := canonical["metadata"].(map[string]interface{})
	if _, found := metadata["annotations"]; found {
		t.Error("Expected annotations map to be dropped when all keys are filtered")
	}
}

func TestContentHash_NumericTypesAgree(t *testing.T) {
	// Parsed configuration carries float64 where the API server returns
	// int64; the hash must not see a difference.
	fromConfig := New(&unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata":   map[string]interface{}{"name": "d"},
		"spec":       map[string]interface{}{"replicas": float64(3)},
	}}, "integ", "v1")
	fromServer := New(&unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata":   map[string]interface{}{"name": "d"},
		"spec":       map[string]interface{}{"replicas": int64(3)},
	}}, "integ", "v1")

	h1, err := fromConfig.ContentHash()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	h2, err := fromServer.ContentHash()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if h1 != h2 {
		t.Errorf("Expected identical hashes, got %q and %q", h1, h2)
	}
	if !fromConfig.Equal(fromServer) {
		t.Error("Expected bodies to be structurally equal")
	}
}

func TestEqual_IgnoresServerNoise(t *testing.T) {
	desired := New(configMap("cm", map[string]interface{}{"k": "v"}), "integ", "v1")

	liveBody := configMap("cm", map[string]interface{}{"k": "v"})
	liveBody.SetResourceVersion("99")
	liveBody.SetAnnotations(map[string]string{
		AnnotationIntegration: "integ",
		AnnotationContentHash: "whatever",
	})
	live := New(liveBody, "integ", "v1")

	if !desired.Equal(live) {
		t.Error("Expected equality despite server-managed fields")
	}
	if desired.Equal(nil) {
		t.Error("Expected inequality against nil")
	}
}

func TestEqual_DetectsDrift(t *testing.T) {
	a := New(configMap("cm", map[string]interface{}{"k": "v"}), "integ", "v1")
	b := New(configMap("cm", map[string]interface{}{"k": "changed"}), "integ", "v1")
	if a.Equal(b) {
		t.Error("Expected drifted bodies to differ")
	}
}

func TestAnnotate(t *testing.T) {
	m := NewWithCaller(configMap("cm", map[string]interface{}{"k": "v"}), "integ", "1.2.3", "saas-a")

	annotated, err := m.Annotate()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	anns := annotated.GetAnnotations()
	if anns[AnnotationIntegration] != "integ" {
		t.Errorf("Expected integration annotation, got %q", anns[AnnotationIntegration])
	}
	if anns[AnnotationVersion] != "1.2.3" {
		t.Errorf("Expected version annotation, got %q", anns[AnnotationVersion])
	}
	if anns[AnnotationCaller] != "saas-a" {
		t.Errorf("Expected caller annotation, got %q", anns[AnnotationCaller])
	}
	hash, _ := m.ContentHash()
	if anns[AnnotationContentHash] != hash {
		t.Errorf("Expected content hash %q, got %q", hash, anns[AnnotationContentHash])
	}
	if anns[AnnotationUpdate] == "" {
		t.Error("Expected update timestamp annotation")
	}

	// The original body must stay untouched.
	if len(m.Body().GetAnnotations()) != 0 {
		t.Error("Expected Annotate to make a copy, original body was mutated")
	}
}

func TestHasProvenance(t *testing.T) {
	bare := New(configMap("cm", nil), "integ", "v1")
	if bare.HasProvenance() {
		t.Error("Expected no provenance on bare body")
	}

	managed, err := bare.Annotate()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !New(managed, "integ", "v1").HasProvenance() {
		t.Error("Expected provenance on annotated body")
	}
}

func TestHasValidHash_StaleAfterManualEdit(t *testing.T) {
	declared := New(configMap("cm", map[string]interface{}{"k": "v"}), "integ", "v1")
	live, err := declared.Annotate()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !New(live, "integ", "v1").HasValidHash() {
		t.Error("Expected freshly annotated body to have a valid hash")
	}

	// A hand edit changes the body but leaves the stored hash behind.
	edited := live.DeepCopy()
	_ = unstructured.SetNestedField(edited.Object, "tampered", "data", "k")
	if New(edited, "integ", "v1").HasValidHash() {
		t.Error("Expected manually edited body to have a stale hash")
	}
}

func TestHasOwnerReference(t *testing.T) {
	body := configMap("cm", nil)
	if New(body, "integ", "v1").HasOwnerReference() {
		t.Error("Expected no owner reference")
	}

	owned := configMap("cm", nil)
	_ = unstructured.SetNestedSlice(owned.Object, []interface{}{
		map[string]interface{}{"apiVersion": "apps/v1", "kind": "StatefulSet", "name": "owner", "uid": "u"},
	}, "metadata", "ownerReferences")
	if !New(owned, "integ", "v1").HasOwnerReference() {
		t.Error("Expected owner reference to be detected")
	}
}
