// Package fetch populates the inventory from state specs: the current side
// from live cluster listings, the desired side from declared manifests.
package fetch

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stategraph-sh/reconciler/internal/inventory"
	"github.com/stategraph-sh/reconciler/internal/pool"
	"github.com/stategraph-sh/reconciler/internal/resource"
	"github.com/stategraph-sh/reconciler/internal/specs"
)

// Options carries run-level provenance for fetched and declared resources.
type Options struct {
	Integration        string
	IntegrationVersion string
	Caller             string
	ThreadPoolSize     int
}

// CurrentState executes all current specs concurrently against their
// provider clients. Failures are isolated per spec and per cluster: a
// connectivity or listing error registers a cluster error and aborts that
// spec only, never its siblings.
func CurrentState(ctx context.Context, ri *inventory.Inventory, stateSpecs []specs.StateSpec, opts Options) {
	var current []specs.StateSpec
	for _, s := range stateSpecs {
		if s.Type == specs.TypeCurrent {
			current = append(current, s)
		}
	}
	pool.Each(ctx, opts.ThreadPoolSize, current, func(ctx context.Context, s specs.StateSpec) {
		populateCurrent(ctx, ri, s, opts)
	})
}

func populateCurrent(ctx context.Context, ri *inventory.Inventory, s specs.StateSpec, opts Options) {
	logger := log.FromContext(ctx)
	if s.Client == nil {
		return
	}

	fetchKind := s.FetchKind()
	if !s.Client.HasAPIResource(fetchKind) {
		// Schema drift between environments is expected, not an error.
		logger.Info("cluster has no such API resource, skipping",
			"cluster", s.Cluster, "resource", fetchKind)
		return
	}

	namespace := s.Namespace
	if namespace == specs.ClusterScopedNamespace {
		namespace = ""
	}
	items, err := s.Client.ListItems(ctx, fetchKind, namespace, s.ResourceNames)
	if err != nil {
		ri.RegisterError(s.Cluster)
		logger.Error(err, "listing current state failed",
			"cluster", s.Cluster, "namespace", s.Namespace, "resource", fetchKind)
		return
	}

	for i := range items {
		item := items[i]
		r := resource.New(&item, opts.Integration, opts.IntegrationVersion)
		// Report under the declared kind even when fetched via an override.
		ri.AddCurrent(s.Cluster, s.Namespace, s.Resource, r.Name(), r)
	}
}

// DesiredState populates the inventory's desired side from the declared
// resource definitions carried by desired specs. A duplicate name within a
// cell is a configuration conflict and surfaces as a DuplicateKeyError.
func DesiredState(ctx context.Context, ri *inventory.Inventory, stateSpecs []specs.StateSpec, opts Options) error {
	for _, s := range stateSpecs {
		if s.Type != specs.TypeDesired {
			continue
		}
		for _, def := range s.Definitions {
			body, err := def.Parse()
			if err != nil {
				return fmt.Errorf("invalid resource in %s/%s: %w", s.Cluster, s.Namespace, err)
			}
			// Cluster-scoped specs are built per kind; definitions of other
			// kinds belong to a sibling spec.
			if s.Resource != "" && body.GetKind() != s.Resource {
				continue
			}
			r := resource.NewWithCaller(body, opts.Integration, opts.IntegrationVersion, opts.Caller)
			err = ri.AddDesired(s.Cluster, s.Namespace, body.GetKind(), body.GetName(), r, s.Privileged, false)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
