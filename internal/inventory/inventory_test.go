package inventory

import (
	"errors"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/stategraph-sh/reconciler/internal/resource"
)

func managed(kind, name string) *resource.Managed {
	return resource.New(&unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       kind,
		"metadata":   map[string]interface{}{"name": name},
	}}, "integ", "v1")
}

func TestAddDesired_DuplicateKey(t *testing.T) {
	ri := New()

	if err := ri.AddDesired("c1", "ns1", "ConfigMap", "cm", managed("ConfigMap", "cm"), false, false); err != nil {
		t.Fatalf("Expected no error on first insert, got: %v", err)
	}
	err := ri.AddDesired("c1", "ns1", "ConfigMap", "cm", managed("ConfigMap", "cm"), false, false)

	var dup *DuplicateKeyError
	if !errors.As(err, &dup) {
		t.Fatalf("Expected DuplicateKeyError, got: %v", err)
	}
	if dup.Cluster != "c1" || dup.Namespace != "ns1" || dup.Kind != "ConfigMap" || dup.Name != "cm" {
		t.Errorf("Expected full coordinates in error, got %+v", dup)
	}

	// The same name on another cluster or namespace is not a duplicate.
	if err := ri.AddDesired("c2", "ns1", "ConfigMap", "cm", managed("ConfigMap", "cm"), false, false); err != nil {
		t.Errorf("Expected no error across clusters, got: %v", err)
	}
}

func TestAddDesired_AllowDuplicate(t *testing.T) {
	ri := New()
	_ = ri.AddDesired("c1", "ns1", "ConfigMap", "cm", managed("ConfigMap", "cm"), false, false)
	if err := ri.AddDesired("c1", "ns1", "ConfigMap", "cm", managed("ConfigMap", "cm"), true, true); err != nil {
		t.Fatalf("Expected duplicate to be allowed, got: %v", err)
	}

	cell := ri.CellFor("c1", "ns1", "ConfigMap")
	if cell == nil {
		t.Fatal("Expected cell to exist")
	}
	if !cell.UseAdminToken["cm"] {
		t.Error("Expected privileged flag from the last insert to win")
	}
}

func TestRegisterError_Flags(t *testing.T) {
	ri := New()

	if ri.HasErrors() {
		t.Error("Expected fresh inventory to report no errors")
	}

	// An empty cluster raises only the global flag.
	ri.RegisterError("")
	if !ri.HasErrors() {
		t.Error("Expected global error flag")
	}
	if ri.HasClusterErrors("c1") {
		t.Error("Expected no cluster-scoped flag")
	}

	ri.RegisterError("c1")
	if !ri.HasClusterErrors("c1") {
		t.Error("Expected cluster error flag for c1")
	}
	if ri.HasClusterErrors("c2") {
		t.Error("Expected cluster errors to be isolated per cluster")
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	ri := New()
	ri.Initialize("c1", "ns1", "ConfigMap")
	ri.AddCurrent("c1", "ns1", "ConfigMap", "cm", managed("ConfigMap", "cm"))
	ri.Initialize("c1", "ns1", "ConfigMap")

	cell := ri.CellFor("c1", "ns1", "ConfigMap")
	if len(cell.Current) != 1 {
		t.Errorf("Expected re-initialization to keep existing contents, got %d items", len(cell.Current))
	}
}

func TestSnapshot(t *testing.T) {
	ri := New()
	ri.Initialize("c1", "ns1", "ConfigMap")
	ri.Initialize("c1", "ns1", "Secret")
	ri.Initialize("c2", "ns2", "ConfigMap")

	entries := ri.Snapshot()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	seen := map[Key]bool{}
	for _, e := range entries {
		if e.Cell == nil {
			t.Errorf("Expected non-nil cell for %s/%s/%s", e.Cluster, e.Namespace, e.Kind)
		}
		seen[Key{e.Cluster, e.Namespace, e.Kind}] = true
	}
	if !seen[Key{"c2", "ns2", "ConfigMap"}] {
		t.Error("Expected c2/ns2/ConfigMap entry in snapshot")
	}
}

func TestCellFor_Unknown(t *testing.T) {
	if New().CellFor("c1", "ns1", "ConfigMap") != nil {
		t.Error("Expected nil cell for unknown combination")
	}
}
