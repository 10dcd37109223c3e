// Package realize implements the diff-and-converge engine: for every
// inventory cell it compares desired against current items, applies or
// deletes through the provider abstraction with typed-error recovery, and
// produces the run's action log.
package realize

import (
	"context"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stategraph-sh/reconciler/internal/client"
	"github.com/stategraph-sh/reconciler/internal/inventory"
	"github.com/stategraph-sh/reconciler/internal/pool"
	"github.com/stategraph-sh/reconciler/internal/resource"
)

// Options controls one realize run.
type Options struct {
	// DryRun suppresses all mutating provider calls; the diff is still
	// computed and actions still reported.
	DryRun         bool
	ThreadPoolSize int
	// TakeOver claims exclusive management of the kinds in scope,
	// including deletion of previously unmanaged objects.
	TakeOver bool
	// Caller distinguishes multiple reconciler instances targeting the
	// same namespace.
	Caller string
	// WaitForNamespace blocks an apply until its target namespace exists
	// instead of skipping it.
	WaitForNamespace bool
	// NoDryRunSkipCompare skips the comparison step outside dry-run, for
	// pipelines whose bodies are expensive to compare.
	NoDryRunSkipCompare bool
	// OverrideEnableDeletion can only narrow the computed enable-deletion
	// value, never force deletion back on when errors exist.
	OverrideEnableDeletion *bool
	// RecyclePods signals dependent workloads to restart after applies.
	RecyclePods bool
}

// Run realizes every inventory cell concurrently and returns the combined
// action log. Cells are independent; ordering across them is not defined.
func Run(ctx context.Context, clients *client.Map, ri *inventory.Inventory, opts Options) []Action {
	entries := ri.Snapshot()
	results := pool.Map(ctx, opts.ThreadPoolSize, entries, func(ctx context.Context, e inventory.Entry) []Action {
		return realizeEntry(ctx, clients, ri, e, opts)
	})
	var actions []Action
	for _, r := range results {
		actions = append(actions, r...)
	}
	return actions
}

func realizeEntry(ctx context.Context, clients *client.Map, ri *inventory.Inventory,
	e inventory.Entry, opts Options) []Action {

	logger := log.FromContext(ctx).WithValues(
		"cluster", e.Cluster, "namespace", e.Namespace, "kind", e.Kind)

	// A cluster with connectivity or listing errors must not receive
	// creative or destructive actions based on an incomplete snapshot.
	if ri.HasClusterErrors(e.Cluster) {
		logger.Error(nil, "skipping cell for cluster with errors")
		return nil
	}

	// Any registered error anywhere disables the whole deletion phase.
	enableDeletion := !ri.HasErrors()
	if enableDeletion && opts.OverrideEnableDeletion != nil && !*opts.OverrideEnableDeletion {
		enableDeletion = false
	}

	var actions []Action

	// Desired-side pass: apply. Runs to completion before the deletion
	// pass so deletion sees the final set of surviving names.
	for name, desired := range e.Cell.Desired {
		current := e.Cell.Current[name]
		if current != nil && !decideApply(logger, name, desired, current, opts) {
			continue
		}

		privileged := e.Cell.UseAdminToken[name]
		if err := applyResource(ctx, clients, e, desired, privileged, opts); err != nil {
			ri.RegisterError(e.Cluster)
			clusterErrorsTotal.WithLabelValues(e.Cluster).Inc()
			logApplyError(logger, e.Kind, name, desired, err)
			continue
		}
		actions = append(actions, Action{
			Type:       ActionApplied,
			Cluster:    e.Cluster,
			Namespace:  e.Namespace,
			Kind:       e.Kind,
			Name:       name,
			Privileged: privileged,
		})
		actionsTotal.WithLabelValues(string(ActionApplied), e.Cluster).Inc()
	}

	// Current-side pass: delete what no desired entry claims.
	for name, current := range e.Cell.Current {
		if _, wanted := e.Cell.Desired[name]; wanted {
			continue
		}

		if current.HasProvenance() {
			// Another instance of this integration owns the object.
			if opts.Caller != "" && current.Caller() != opts.Caller {
				continue
			}
		} else if !opts.TakeOver {
			// Unmanaged object and we are not taking over the kind.
			logger.V(1).Info("skipping unmanaged resource", "name", name)
			continue
		}

		// Owned objects are garbage-collected transitively by their owner.
		if current.HasOwnerReference() {
			continue
		}

		privileged := e.Cell.UseAdminToken[name]
		if err := deleteResource(ctx, clients, e, name, privileged, enableDeletion, opts.DryRun); err != nil {
			ri.RegisterError(e.Cluster)
			clusterErrorsTotal.WithLabelValues(e.Cluster).Inc()
			logger.Error(err, "delete failed", "name", name)
			continue
		}
		actions = append(actions, Action{
			Type:       ActionDeleted,
			Cluster:    e.Cluster,
			Namespace:  e.Namespace,
			Kind:       e.Kind,
			Name:       name,
			Privileged: privileged,
		})
		actionsTotal.WithLabelValues(string(ActionDeleted), e.Cluster).Inc()
	}

	return actions
}

// decideApply runs the tie-break chain for a name present on both sides
// and reports whether an apply is needed. Caller ownership is the outer
// gate; hash staleness is the inner tie-break.
func decideApply(logger logr.Logger, name string, desired, current *resource.Managed, opts Options) bool {
	if !opts.DryRun && opts.NoDryRunSkipCompare {
		logger.V(1).Info("skipping compare", "name", name)
		return true
	}

	if !current.HasProvenance() {
		logger.Info("resource present without annotations, annotating and applying", "name", name)
		return true
	}

	// A caller on a take-over run bypasses the structural fast path:
	// equality can hide drift caused by ownership changes such as a
	// removed label.
	if !(opts.Caller != "" && opts.TakeOver) && desired.Equal(current) {
		logger.V(1).Info("resource matches desired, skipping", "name", name)
		return false
	}

	currentHash, cErr := current.ContentHash()
	desiredHash, dErr := desired.ContentHash()
	if cErr == nil && dErr == nil && currentHash == desiredHash {
		if current.HasValidHash() {
			logger.V(1).Info("resource hashes match, skipping", "name", name)
			return false
		}
		logger.Info("resource has stale content hash due to manual changes, re-applying", "name", name)
	}

	return true
}

// logApplyError redacts the error for sensitive kinds: Secret bodies must
// never appear verbatim in any log or propagated message.
func logApplyError(logger logr.Logger, kind, name string, desired *resource.Managed, err error) {
	if kind == "Secret" {
		logger.Error(nil, "error applying Secret, details redacted",
			"name", name, "errorDetails", desired.ErrorDetails)
		return
	}
	logger.Error(err, "apply failed", "name", name, "errorDetails", desired.ErrorDetails)
}

// CheckUnusedResourceTypes warns about cells whose desired side is empty:
// the managed-type declaration no longer serves anything and should be
// removed from configuration.
func CheckUnusedResourceTypes(ctx context.Context, ri *inventory.Inventory) {
	logger := log.FromContext(ctx)
	for _, e := range ri.Snapshot() {
		if len(e.Cell.Desired) == 0 {
			logger.Info("unused resource type, please remove it from configuration",
				"cluster", e.Cluster, "namespace", e.Namespace, "kind", e.Kind)
		}
	}
}
