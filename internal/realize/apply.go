package realize

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stategraph-sh/reconciler/internal/client"
	"github.com/stategraph-sh/reconciler/internal/inventory"
	"github.com/stategraph-sh/reconciler/internal/resource"
	"github.com/stategraph-sh/reconciler/internal/specs"
)

// Kinds known safe to delete and recreate when the platform rejects an
// in-place mutation. Add kinds only once recreation is known safe.
var recreatableOnImmutable = map[string]bool{
	"Route":   true,
	"Service": true,
	"Secret":  true,
}

const namespaceWaitAttempts = 20

// applyResource converges one resource toward its desired body through the
// recovery decision tree over typed provider failures.
func applyResource(ctx context.Context, clients *client.Map, e inventory.Entry,
	desired *resource.Managed, privileged bool, opts Options) error {

	logger := log.FromContext(ctx)
	logger.Info("apply", "cluster", e.Cluster, "namespace", e.Namespace,
		"kind", e.Kind, "name", desired.Name(), "dryRun", opts.DryRun)

	cl, err := clients.Get(e.Cluster, privileged)
	if err != nil {
		return fmt.Errorf("resolving client: %w", err)
	}

	if !opts.DryRun {
		annotated, err := desired.Annotate()
		if err != nil {
			return err
		}

		// A namespace-scoped target may be applied before its namespace
		// exists; cluster-scoped kinds never wait.
		if e.Namespace != specs.ClusterScopedNamespace {
			exists, err := cl.NamespaceExists(ctx, e.Namespace)
			if err != nil {
				return err
			}
			if !exists {
				if !opts.WaitForNamespace {
					logger.Info("namespace does not exist yet, skipping",
						"cluster", e.Cluster, "namespace", e.Namespace)
					return nil
				}
				logger.Info("namespace does not exist yet, waiting",
					"cluster", e.Cluster, "namespace", e.Namespace)
				if err := waitForNamespace(ctx, cl, e.Namespace); err != nil {
					return err
				}
			}
		}

		if err := applyWithRecovery(ctx, cl, e, desired, annotated); err != nil {
			return err
		}
	}

	if opts.RecyclePods {
		// Recycling decisions live in the provider layer; it is signalled
		// regardless of whether this particular apply changed anything.
		if err := cl.RecyclePods(ctx, opts.DryRun, e.Namespace, e.Kind, desired.Name()); err != nil {
			return err
		}
	}
	return nil
}

func applyWithRecovery(ctx context.Context, cl client.Cluster, e inventory.Entry,
	desired *resource.Managed, annotated *unstructured.Unstructured) error {

	logger := log.FromContext(ctx)
	name := desired.Name()

	err := cl.Apply(ctx, e.Namespace, annotated)
	if err == nil {
		return nil
	}

	switch client.KindOf(err) {
	case client.KindInvalidValue:
		// A stale last-applied-configuration annotation poisons the
		// apply; strip it and retry once.
		if rerr := cl.RemoveLastAppliedConfiguration(ctx, e.Namespace, e.Kind, name); rerr != nil {
			return rerr
		}
		return cl.Apply(ctx, e.Namespace, annotated)

	case client.KindAnnotationsTooLong, client.KindUnsupportedMediaType:
		// The body cannot go through a patch; fall back to full PUT,
		// creating first if the object does not exist.
		_, gerr := cl.Get(ctx, e.Namespace, e.Kind, name)
		if client.IsNotFound(gerr) {
			if cerr := cl.Create(ctx, e.Namespace, annotated); cerr != nil {
				return cerr
			}
		} else if gerr != nil {
			return gerr
		}
		return cl.Replace(ctx, e.Namespace, annotated)

	case client.KindFieldImmutable:
		if !recreatableOnImmutable[e.Kind] {
			return err
		}
		if derr := cl.Delete(ctx, e.Namespace, e.Kind, name, true); derr != nil {
			return derr
		}
		return cl.Apply(ctx, e.Namespace, annotated)

	case client.KindMayNotChangeOnceSet, client.KindPrimaryClusterIPCannotBeUnset:
		if e.Kind != "Service" {
			return err
		}
		if derr := cl.Delete(ctx, e.Namespace, e.Kind, name, true); derr != nil {
			return derr
		}
		return cl.Apply(ctx, e.Namespace, annotated)

	case client.KindStatefulSetUpdateForbidden:
		if e.Kind != "StatefulSet" {
			return err
		}
		logger.Info("delete StatefulSet and re-apply",
			"cluster", e.Cluster, "namespace", e.Namespace, "name", name)

		current, gerr := cl.Get(ctx, e.Namespace, e.Kind, name)
		if gerr != nil {
			return gerr
		}
		desiredStorage := templateStorage(desired.Body())
		resizeRequired := desiredStorage != "" && desiredStorage != templateStorage(current)

		// Claim names must be captured before the delete removes the pods
		// that reference them.
		var claims []string
		if resizeRequired {
			claims, gerr = cl.OwnedClaimNames(ctx, e.Namespace, name)
			if gerr != nil {
				return gerr
			}
		}
		// Non-cascading: the claims survive so they can be resized.
		if derr := cl.Delete(ctx, e.Namespace, e.Kind, name, false); derr != nil {
			return derr
		}
		if aerr := cl.Apply(ctx, e.Namespace, annotated); aerr != nil {
			return aerr
		}
		if resizeRequired {
			logger.Info("resizing persistent volume claims",
				"cluster", e.Cluster, "namespace", e.Namespace,
				"claims", claims, "storage", desiredStorage)
			return cl.ResizeClaims(ctx, e.Namespace, claims, desiredStorage)
		}
		return nil

	default:
		return err
	}
}

func deleteResource(ctx context.Context, clients *client.Map, e inventory.Entry,
	name string, privileged, enableDeletion, dryRun bool) error {

	logger := log.FromContext(ctx)
	logger.Info("delete", "cluster", e.Cluster, "namespace", e.Namespace,
		"kind", e.Kind, "name", name, "dryRun", dryRun)

	if !enableDeletion {
		logger.Error(nil, "delete action is disabled due to previous errors",
			"cluster", e.Cluster, "namespace", e.Namespace, "kind", e.Kind, "name", name)
		return nil
	}

	cl, err := clients.Get(e.Cluster, privileged)
	if err != nil {
		return fmt.Errorf("resolving client: %w", err)
	}
	if dryRun {
		return nil
	}
	return cl.Delete(ctx, e.Namespace, e.Kind, name, true)
}

func waitForNamespace(ctx context.Context, cl client.Cluster, namespace string) error {
	check := func() error {
		exists, err := cl.NamespaceExists(ctx, namespace)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !exists {
			return fmt.Errorf("namespace %s does not exist", namespace)
		}
		return nil
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), namespaceWaitAttempts-1), ctx)
	return backoff.Retry(check, b)
}

// templateStorage returns the storage request of the first volume claim
// template, or "" when none is declared.
func templateStorage(body *unstructured.Unstructured) string {
	templates, found, err := unstructured.NestedSlice(body.Object, "spec", "volumeClaimTemplates")
	if err != nil || !found || len(templates) == 0 {
		return ""
	}
	template, ok := templates[0].(map[string]interface{})
	if !ok {
		return ""
	}
	storage, _, _ := unstructured.NestedString(template, "spec", "resources", "requests", "storage")
	return storage
}
