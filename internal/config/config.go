package config

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"
)

// ClusterRef names the cluster a namespace lives on, with the connection
// details the provider layer needs.
type ClusterRef struct {
	Name                  string `json:"name"`
	ServerURL             string `json:"serverUrl"`
	AutomationToken       string `json:"automationToken,omitempty"`
	ClusterAdminToken     string `json:"clusterAdminAutomationToken,omitempty"`
	InsecureSkipTLSVerify bool   `json:"insecureSkipTLSVerify,omitempty"`
}

// ResourceNameSelection restricts fetching of one managed kind to an
// explicit allowlist of names.
type ResourceNameSelection struct {
	Resource      string   `json:"resource"`
	ResourceNames []string `json:"resourceNames"`
}

// ResourceTypeOverride fetches a managed kind under an alternate provider
// resource type while reporting it under the declared kind.
type ResourceTypeOverride struct {
	Resource string `json:"resource"`
	Override string `json:"override"`
}

// ResourceDefinition is one declared desired resource: an inline YAML or
// JSON manifest.
type ResourceDefinition struct {
	Provider string `json:"provider,omitempty"`
	Manifest string `json:"manifest"`
}

// Parse decodes the manifest into an unstructured body.
func (d ResourceDefinition) Parse() (*unstructured.Unstructured, error) {
	var body map[string]interface{}
	if err := yaml.Unmarshal([]byte(d.Manifest), &body); err != nil {
		return nil, fmt.Errorf("parsing resource manifest: %w", err)
	}
	obj := &unstructured.Unstructured{Object: body}
	if obj.GetKind() == "" || obj.GetName() == "" {
		return nil, fmt.Errorf("resource manifest missing kind or metadata.name")
	}
	return obj, nil
}

// SharedResources is a bundle of resource definitions shared across
// namespaces, aggregated into each namespace's declared list before spec
// building.
type SharedResources struct {
	Resources []ResourceDefinition `json:"resources"`
}

// Namespace is one namespace declaration from the configuration graph.
type Namespace struct {
	Name                         string                  `json:"name"`
	Cluster                      ClusterRef              `json:"cluster"`
	ClusterAdmin                 bool                    `json:"clusterAdmin,omitempty"`
	ManagedResourceTypes         []string                `json:"managedResourceTypes,omitempty"`
	ManagedResourceNames         []ResourceNameSelection `json:"managedResourceNames,omitempty"`
	ManagedResourceTypeOverrides []ResourceTypeOverride  `json:"managedResourceTypeOverrides,omitempty"`
	SharedResources              []SharedResources       `json:"sharedResources,omitempty"`
	Resources                    []ResourceDefinition    `json:"resources,omitempty"`
}

// Cluster is one cluster declaration for cluster-scoped reconciliation.
// Cluster files carry no managed-type list of their own; the integration
// supplies the kinds it manages.
type Cluster struct {
	Name                  string               `json:"name"`
	ServerURL             string               `json:"serverUrl"`
	AutomationToken       string               `json:"automationToken,omitempty"`
	InsecureSkipTLSVerify bool                 `json:"insecureSkipTLSVerify,omitempty"`
	Resources             []ResourceDefinition `json:"resources,omitempty"`
}

// AggregateSharedResources merges the namespace's shared resource bundles
// into its own declared resource list. Applied once, before spec building.
func AggregateSharedResources(ns *Namespace) {
	for _, shared := range ns.SharedResources {
		ns.Resources = append(ns.Resources, shared.Resources...)
	}
	ns.SharedResources = nil
}
