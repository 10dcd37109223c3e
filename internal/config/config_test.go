package config

import (
	"testing"
)

func TestResourceDefinition_ParseJSON(t *testing.T) {
	def := ResourceDefinition{
		Manifest: `{"apiVersion":"v1","kind":"ConfigMap","metadata":{"name":"cm","namespace":"ns1"},"data":{"k":"v"}}`,
	}
	obj, err := def.Parse()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if obj.GetKind() != "ConfigMap" || obj.GetName() != "cm" {
		t.Errorf("Expected ConfigMap/cm, got %s/%s", obj.GetKind(), obj.GetName())
	}
}

func TestResourceDefinition_ParseYAML(t *testing.T) {
	def := ResourceDefinition{
		Manifest: "apiVersion: v1\nkind: Secret\nmetadata:\n  name: creds\nstringData:\n  token: abc\n",
	}
	obj, err := def.Parse()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if obj.GetKind() != "Secret" || obj.GetName() != "creds" {
		t.Errorf("Expected Secret/creds, got %s/%s", obj.GetKind(), obj.GetName())
	}
}

func TestResourceDefinition_ParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"not yaml", ": : ["},
		{"missing kind", `{"apiVersion":"v1","metadata":{"name":"x"}}`},
		{"missing name", `{"apiVersion":"v1","kind":"ConfigMap","metadata":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := (ResourceDefinition{Manifest: tt.manifest}).Parse(); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestAggregateSharedResources(t *testing.T) {
	ns := Namespace{
		Name: "ns1",
		Resources: []ResourceDefinition{
			{Manifest: "own"},
		},
		SharedResources: []SharedResources{
			{Resources: []ResourceDefinition{{Manifest: "shared-a"}, {Manifest: "shared-b"}}},
			{Resources: []ResourceDefinition{{Manifest: "shared-c"}}},
		},
	}

	AggregateSharedResources(&ns)

	if len(ns.Resources) != 4 {
		t.Fatalf("Expected 4 resources after aggregation, got %d", len(ns.Resources))
	}
	if ns.Resources[0].Manifest != "own" {
		t.Error("Expected the namespace's own resources to stay first")
	}
}
