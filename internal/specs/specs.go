// Package specs expands configuration declarations into the flat list of
// fetch/build tasks consumed by the current-state fetch phase.
package specs

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stategraph-sh/reconciler/internal/client"
	"github.com/stategraph-sh/reconciler/internal/config"
	"github.com/stategraph-sh/reconciler/internal/inventory"
)

// SpecType says which side of the inventory a spec populates.
type SpecType string

const (
	TypeCurrent SpecType = "current"
	TypeDesired SpecType = "desired"
)

// ClusterScopedNamespace is the sentinel namespace used for cluster-scoped
// kinds, which have no namespace of their own.
const ClusterScopedNamespace = "cluster"

// StateSpec is one fetch/build task. Ephemeral: created here, consumed
// once by the population step, then discarded.
type StateSpec struct {
	Type      SpecType
	Client    client.Cluster
	Cluster   string
	Namespace string
	// Resource is the managed kind for current specs.
	Resource             string
	ResourceTypeOverride string
	ResourceNames        []string
	Privileged           bool
	// Definitions carries the declared resources for desired specs.
	Definitions []config.ResourceDefinition
	Parent      *config.Namespace
}

// FetchKind returns the provider resource type to fetch: the override when
// one is declared, the managed kind otherwise.
func (s StateSpec) FetchKind() string {
	if s.ResourceTypeOverride != "" {
		return s.ResourceTypeOverride
	}
	return s.Resource
}

// Build expands namespace or cluster declarations (mutually exclusive)
// into state specs, initializing inventory cells as it goes. A non-nil
// overrideManagedTypes replaces every namespace's declared managed set and
// relaxes the unmanaged-name/override checks from fatal to skip: the
// caller has constrained scope intentionally.
func Build(ctx context.Context, ri *inventory.Inventory, clients *client.Map,
	namespaces []config.Namespace, clusters []config.Cluster,
	overrideManagedTypes []string) ([]StateSpec, error) {

	switch {
	case len(namespaces) > 0 && len(clusters) > 0:
		return nil, fmt.Errorf("expected only one of clusters or namespaces")
	case len(namespaces) > 0:
		return buildNamespaceSpecs(ctx, ri, clients, namespaces, overrideManagedTypes)
	case len(clusters) > 0:
		return buildClusterSpecs(ctx, ri, clients, clusters, overrideManagedTypes)
	default:
		return nil, fmt.Errorf("expected one of clusters or namespaces")
	}
}

func buildNamespaceSpecs(ctx context.Context, ri *inventory.Inventory, clients *client.Map,
	namespaces []config.Namespace, overrideManagedTypes []string) ([]StateSpec, error) {

	logger := log.FromContext(ctx)
	var out []StateSpec

	for i := range namespaces {
		ns := &namespaces[i]

		managed := map[string]bool{}
		if overrideManagedTypes == nil {
			for _, t := range ns.ManagedResourceTypes {
				managed[t] = true
			}
		} else {
			for _, t := range overrideManagedTypes {
				managed[t] = true
			}
		}
		if len(managed) == 0 {
			continue
		}

		cluster := ns.Cluster.Name
		privileged := ns.ClusterAdmin
		handle, err := clients.Get(cluster, privileged)
		if err != nil {
			ri.RegisterError(cluster)
			logger.Error(err, "cannot resolve cluster client", "cluster", cluster)
			continue
		}

		for kind := range managed {
			ri.Initialize(cluster, ns.Name, kind)
		}

		overrides := map[string]string{}
		for _, o := range ns.ManagedResourceTypeOverrides {
			if managed[o.Resource] {
				overrides[o.Resource] = o.Override
			} else if overrideManagedTypes != nil {
				logger.V(1).Info("skipping resource type override outside managed scope",
					"cluster", cluster, "namespace", ns.Name, "resource", o.Resource)
			} else {
				return nil, fmt.Errorf("non-managed override %s listed on %s/%s",
					o.Resource, cluster, ns.Name)
			}
		}

		restricted := map[string][]string{}
		for _, sel := range ns.ManagedResourceNames {
			if managed[sel.Resource] {
				restricted[sel.Resource] = sel.ResourceNames
			} else if overrideManagedTypes != nil {
				logger.V(1).Info("skipping resource name restriction outside managed scope",
					"cluster", cluster, "namespace", ns.Name, "resource", sel.Resource)
			} else {
				return nil, fmt.Errorf("non-managed resource name for kind %s listed on %s/%s",
					sel.Resource, cluster, ns.Name)
			}
		}

		// Name-restricted kinds get their own spec and are consumed out of
		// the generic set so they are not fetched twice.
		for kind, names := range restricted {
			out = append(out, StateSpec{
				Type:                 TypeCurrent,
				Client:               handle,
				Cluster:              cluster,
				Namespace:            ns.Name,
				Resource:             kind,
				ResourceTypeOverride: overrides[kind],
				ResourceNames:        names,
			})
			delete(managed, kind)
		}

		for kind := range managed {
			out = append(out, StateSpec{
				Type:                 TypeCurrent,
				Client:               handle,
				Cluster:              cluster,
				Namespace:            ns.Name,
				Resource:             kind,
				ResourceTypeOverride: overrides[kind],
			})
		}

		if len(ns.Resources) > 0 {
			out = append(out, StateSpec{
				Type:        TypeDesired,
				Client:      handle,
				Cluster:     cluster,
				Namespace:   ns.Name,
				Privileged:  privileged,
				Definitions: ns.Resources,
				Parent:      ns,
			})
		}
	}

	return out, nil
}

func buildClusterSpecs(ctx context.Context, ri *inventory.Inventory, clients *client.Map,
	clusters []config.Cluster, overrideManagedTypes []string) ([]StateSpec, error) {

	logger := log.FromContext(ctx)
	var out []StateSpec

	// Cluster declarations carry no managed-type list; only the
	// integration-supplied override drives spec construction.
	for i := range clusters {
		cl := &clusters[i]
		handle, err := clients.Get(cl.Name, false)
		if err != nil {
			ri.RegisterError(cl.Name)
			logger.Error(err, "cannot resolve cluster client", "cluster", cl.Name)
			continue
		}

		for _, kind := range overrideManagedTypes {
			ri.Initialize(cl.Name, ClusterScopedNamespace, kind)
			out = append(out, StateSpec{
				Type:      TypeCurrent,
				Client:    handle,
				Cluster:   cl.Name,
				Namespace: ClusterScopedNamespace,
				Resource:  kind,
			})
			out = append(out, StateSpec{
				Type:        TypeDesired,
				Client:      handle,
				Cluster:     cl.Name,
				Namespace:   ClusterScopedNamespace,
				Resource:    kind,
				Definitions: cl.Resources,
			})
		}
	}

	return out, nil
}
