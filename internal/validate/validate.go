// Package validate polls applied resources until their status reports
// convergence, with bounded attempts. A resource that is not ready yet is
// retried; a job that reports failure terminates validation immediately.
package validate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stategraph-sh/reconciler/internal/client"
	"github.com/stategraph-sh/reconciler/internal/realize"
)

const (
	maxAttempts  = 100
	pollInterval = 5 * time.Second

	subscriptionReadyState = "AtLatestKnown"
)

var supportedKinds = map[string]bool{
	"Deployment":         true,
	"DeploymentConfig":   true,
	"StatefulSet":        true,
	"Subscription":       true,
	"Job":                true,
	"ClowdApp":           true,
	"ClowdJobInvocation": true,
}

// NotReadyError signals a resource whose rollout has not converged yet.
// It is the only retryable validation outcome.
type NotReadyError struct {
	Name string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("resource %s is not ready yet", e.Name)
}

// JobFailedError signals a job or job invocation that terminally failed.
// It carries the failure reason and is never retried.
type JobFailedError struct {
	Name   string
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.Name, e.Reason)
}

// Actions polls every applied action of a supported kind until all are
// ready, up to maxAttempts. The loop is cancellable between attempts.
func Actions(ctx context.Context, clients *client.Map, actions []realize.Action) error {
	check := func() error {
		err := validateOnce(ctx, clients, actions)
		if err == nil {
			return nil
		}
		var notReady *NotReadyError
		if errors.As(err, &notReady) {
			return err
		}
		// Job failures and provider errors terminate validation.
		return backoff.Permanent(err)
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(pollInterval), maxAttempts-1), ctx)
	return backoff.Retry(check, b)
}

func validateOnce(ctx context.Context, clients *client.Map, actions []realize.Action) error {
	logger := log.FromContext(ctx)

	for _, action := range actions {
		if action.Type != realize.ActionApplied || !supportedKinds[action.Kind] {
			continue
		}
		logger.Info("validating", "cluster", action.Cluster,
			"namespace", action.Namespace, "kind", action.Kind, "name", action.Name)

		cl, err := clients.Get(action.Cluster, false)
		if err != nil {
			logger.Error(err, "cannot resolve cluster client", "cluster", action.Cluster)
			continue
		}
		obj, err := cl.Get(ctx, action.Namespace, action.Kind, action.Name)
		if err != nil {
			return err
		}

		status, found, _ := unstructured.NestedMap(obj.Object, "status")
		if !found || len(status) == 0 {
			// Missing status is always pending, never fatal.
			return &NotReadyError{Name: action.Name}
		}

		switch action.Kind {
		case "Deployment", "DeploymentConfig", "StatefulSet":
			err = validateWorkload(logger, obj, status, action)
		case "Subscription":
			err = validateSubscription(logger, status, action)
		case "Job":
			err = validateJob(logger, status, action)
		case "ClowdApp":
			err = validateClowdApp(logger, status, action)
		case "ClowdJobInvocation":
			err = validateClowdJobInvocation(logger, status, action)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func validateWorkload(logger logr.Logger, obj *unstructured.Unstructured, status map[string]interface{}, action realize.Action) error {
	desired, _, _ := unstructured.NestedInt64(obj.Object, "spec", "replicas")
	if desired == 0 {
		// Scaled to zero is a valid terminal state, not a pending rollout.
		return nil
	}
	replicas, _, _ := unstructured.NestedInt64(status, "replicas")
	if replicas == 0 {
		return nil
	}
	updated, _, _ := unstructured.NestedInt64(status, "updatedReplicas")
	ready, _, _ := unstructured.NestedInt64(status, "readyReplicas")
	if desired != replicas || desired != ready || desired != updated {
		logger.Info("workload has replicas that are not ready",
			"kind", action.Kind, "name", action.Name, "ready", ready, "desired", desired)
		return &NotReadyError{Name: action.Name}
	}
	return nil
}

func validateSubscription(logger logr.Logger, status map[string]interface{}, action realize.Action) error {
	state, _, _ := unstructured.NestedString(status, "state")
	if state != subscriptionReadyState {
		logger.Info("subscription state is invalid", "name", action.Name, "state", state)
		return &NotReadyError{Name: action.Name}
	}
	return nil
}

func validateJob(logger logr.Logger, status map[string]interface{}, action realize.Action) error {
	succeeded, _, _ := unstructured.NestedInt64(status, "succeeded")
	if succeeded > 0 {
		return nil
	}
	logger.Info("job has not succeeded", "name", action.Name)
	conditions, found, _ := unstructured.NestedSlice(status, "conditions")
	if found {
		logger.Info("job conditions", "name", action.Name, "conditions", conditions)
		for _, c := range conditions {
			condition, ok := c.(map[string]interface{})
			if !ok {
				continue
			}
			condType, _, _ := unstructured.NestedString(condition, "type")
			if condType == "Failed" {
				reason, _, _ := unstructured.NestedString(condition, "reason")
				return &JobFailedError{Name: action.Name, Reason: reason}
			}
		}
	}
	return &NotReadyError{Name: action.Name}
}

func validateClowdApp(logger logr.Logger, status map[string]interface{}, action realize.Action) error {
	deployments, found, _ := unstructured.NestedMap(status, "deployments")
	if !found || len(deployments) == 0 {
		logger.Info("ClowdApp has no deployments, status is invalid", "name", action.Name)
		return &NotReadyError{Name: action.Name}
	}
	managed, _, _ := unstructured.NestedInt64(deployments, "managedDeployments")
	ready, _, _ := unstructured.NestedInt64(deployments, "readyDeployments")
	if managed != ready {
		logger.Info("ClowdApp has deployments that are not ready",
			"name", action.Name, "ready", ready, "managed", managed)
		return &NotReadyError{Name: action.Name}
	}
	return nil
}

func validateClowdJobInvocation(logger logr.Logger, status map[string]interface{}, action realize.Action) error {
	completed, _, _ := unstructured.NestedBool(status, "completed")
	jobs, _, _ := unstructured.NestedStringMap(status, "jobMap")
	if len(jobs) > 0 {
		logger.Info("ClowdJobInvocation jobs", "name", action.Name, "jobs", jobs)
	}
	if completed {
		var failed []string
		for jobName, jobState := range jobs {
			if jobState == "Failed" {
				failed = append(failed, jobName)
			}
		}
		if len(failed) > 0 {
			return &JobFailedError{
				Name:   action.Name,
				Reason: fmt.Sprintf("failed jobs: %v", failed),
			}
		}
		return nil
	}
	logger.Info("ClowdJobInvocation has not completed", "name", action.Name)
	return &NotReadyError{Name: action.Name}
}
