package client

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Cluster is the per-target provider handle the reconciler core talks to.
// Implementations must return classified errors (client.Error) so the
// realize engine can drive its recovery table; an error the implementation
// cannot classify must carry KindUnknown, never be swallowed.
type Cluster interface {
	// ClusterName returns the configured name of the target cluster.
	ClusterName() string

	// HasAPIResource reports whether the kind is served by this cluster.
	// Schema drift between environments is expected, so a missing kind is
	// not an error condition.
	HasAPIResource(kind string) bool

	// ListItems lists objects of the kind in the namespace, optionally
	// restricted to an explicit set of names.
	ListItems(ctx context.Context, kind, namespace string, names []string) ([]unstructured.Unstructured, error)

	// Get fetches one object. Absence surfaces as KindNotFound.
	Get(ctx context.Context, namespace, kind, name string) (*unstructured.Unstructured, error)

	// Apply patches the object toward the given body, creating it if absent.
	Apply(ctx context.Context, namespace string, body *unstructured.Unstructured) error

	// Create creates the object.
	Create(ctx context.Context, namespace string, body *unstructured.Unstructured) error

	// Replace overwrites the object with full PUT semantics.
	Replace(ctx context.Context, namespace string, body *unstructured.Unstructured) error

	// Delete removes the object. cascade=false leaves dependents in place
	// so the caller can run compensating actions against them.
	Delete(ctx context.Context, namespace, kind, name string, cascade bool) error

	// RemoveLastAppliedConfiguration strips the server-side last-applied
	// annotation that can poison subsequent applies.
	RemoveLastAppliedConfiguration(ctx context.Context, namespace, kind, name string) error

	// NamespaceExists reports whether the namespace exists on the cluster.
	NamespaceExists(ctx context.Context, namespace string) (bool, error)

	// OwnedClaimNames returns the persistent-volume-claim names mounted by
	// pods owned by the named workload.
	OwnedClaimNames(ctx context.Context, namespace, owner string) ([]string, error)

	// ResizeClaims patches the listed claims to the given storage size.
	ResizeClaims(ctx context.Context, namespace string, names []string, size string) error

	// RecyclePods signals workloads depending on the given object to
	// restart. Dependency tracking is the provider's concern; in dry-run
	// mode only the decision is logged.
	RecyclePods(ctx context.Context, dryRun bool, namespace, kind, name string) error

	// StreamLogs writes container logs for pods belonging to the named
	// job into dir, one file per pod. Best effort.
	StreamLogs(ctx context.Context, namespace, name, dir string) error
}
