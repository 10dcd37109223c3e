package validate

import (
	"context"
	"errors"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/stategraph-sh/reconciler/internal/client"
	"github.com/stategraph-sh/reconciler/internal/client/clienttest"
	"github.com/stategraph-sh/reconciler/internal/realize"
)

func testClients(fake *clienttest.Fake) *client.Map {
	m := client.NewMap("integ")
	m.Register(fake.Name, false, fake)
	return m
}

func appliedAction(kind, name string) realize.Action {
	return realize.Action{
		Type:      realize.ActionApplied,
		Cluster:   "c1",
		Namespace: "ns1",
		Kind:      kind,
		Name:      name,
	}
}

func seed(fake *clienttest.Fake, kind, name string, spec, status map[string]interface{}) {
	obj := map[string]interface{}{
		"apiVersion": "apps/v1",
		"kind":       kind,
		"metadata":   map[string]interface{}{"name": name, "namespace": "ns1"},
	}
	if spec != nil {
		obj["spec"] = spec
	}
	if status != nil {
		obj["status"] = status
	}
	fake.Seed("ns1", &unstructured.Unstructured{Object: obj})
}

func TestValidateOnce_DeploymentReady(t *testing.T) {
	fake := clienttest.NewFake("c1")
	seed(fake, "Deployment", "web",
		map[string]interface{}{"replicas": int64(3)},
		map[string]interface{}{"replicas": int64(3), "readyReplicas": int64(3), "updatedReplicas": int64(3)})

	err := validateOnce(context.Background(), testClients(fake), []realize.Action{appliedAction("Deployment", "web")})
	if err != nil {
		t.Errorf("Expected ready deployment to validate, got: %v", err)
	}
}

func TestValidateOnce_DeploymentNotReady(t *testing.T) {
	fake := clienttest.NewFake("c1")
	seed(fake, "Deployment", "web",
		map[string]interface{}{"replicas": int64(3)},
		map[string]interface{}{"replicas": int64(3), "readyReplicas": int64(1), "updatedReplicas": int64(3)})

	err := validateOnce(context.Background(), testClients(fake), []realize.Action{appliedAction("Deployment", "web")})
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Errorf("Expected NotReadyError, got: %v", err)
	}
}

func TestValidateOnce_ScaledToZero(t *testing.T) {
	fake := clienttest.NewFake("c1")
	seed(fake, "StatefulSet", "db",
		map[string]interface{}{"replicas": int64(0)},
		map[string]interface{}{"replicas": int64(0)})

	err := validateOnce(context.Background(), testClients(fake), []realize.Action{appliedAction("StatefulSet", "db")})
	if err != nil {
		t.Errorf("Expected scaled-to-zero workload to be valid, got: %v", err)
	}
}

func TestValidateOnce_MissingStatusIsPending(t *testing.T) {
	fake := clienttest.NewFake("c1")
	seed(fake, "Deployment", "web", map[string]interface{}{"replicas": int64(1)}, nil)

	err := validateOnce(context.Background(), testClients(fake), []realize.Action{appliedAction("Deployment", "web")})
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Errorf("Expected NotReadyError for missing status, got: %v", err)
	}
}

func TestValidateOnce_UnsupportedKindsIgnored(t *testing.T) {
	fake := clienttest.NewFake("c1")
	// No object seeded: a Get would fail, proving it is never attempted.
	err := validateOnce(context.Background(), testClients(fake), []realize.Action{
		appliedAction("ConfigMap", "cm"),
		{Type: realize.ActionDeleted, Cluster: "c1", Namespace: "ns1", Kind: "Deployment", Name: "gone"},
	})
	if err != nil {
		t.Errorf("Expected unsupported kinds and deletions to be skipped, got: %v", err)
	}
}

func TestValidateOnce_Subscription(t *testing.T) {
	fake := clienttest.NewFake("c1")
	seed(fake, "Subscription", "operator", nil, map[string]interface{}{"state": "UpgradePending"})

	err := validateOnce(context.Background(), testClients(fake), []realize.Action{appliedAction("Subscription", "operator")})
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Errorf("Expected NotReadyError, got: %v", err)
	}

	seed(fake, "Subscription", "operator", nil, map[string]interface{}{"state": "AtLatestKnown"})
	if err := validateOnce(context.Background(), testClients(fake), []realize.Action{appliedAction("Subscription", "operator")}); err != nil {
		t.Errorf("Expected subscription at latest known to validate, got: %v", err)
	}
}

func TestValidateOnce_JobSucceeded(t *testing.T) {
	fake := clienttest.NewFake("c1")
	seed(fake, "Job", "run", nil, map[string]interface{}{"succeeded": int64(1)})

	if err := validateOnce(context.Background(), testClients(fake), []realize.Action{appliedAction("Job", "run")}); err != nil {
		t.Errorf("Expected succeeded job to validate, got: %v", err)
	}
}

func TestValidateOnce_JobFailed(t *testing.T) {
	fake := clienttest.NewFake("c1")
	seed(fake, "Job", "run", nil, map[string]interface{}{
		"conditions": []interface{}{
			map[string]interface{}{"type": "Failed", "status": "True", "reason": "BackoffLimitExceeded"},
		},
	})

	err := validateOnce(context.Background(), testClients(fake), []realize.Action{appliedAction("Job", "run")})
	var failed *JobFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Expected JobFailedError, got: %v", err)
	}
	if failed.Reason != "BackoffLimitExceeded" {
		t.Errorf("Expected failure reason to be carried, got %q", failed.Reason)
	}
}

func TestValidateOnce_JobStillRunning(t *testing.T) {
	fake := clienttest.NewFake("c1")
	seed(fake, "Job", "run", nil, map[string]interface{}{"active": int64(1)})

	err := validateOnce(context.Background(), testClients(fake), []realize.Action{appliedAction("Job", "run")})
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Errorf("Expected NotReadyError, got: %v", err)
	}
}

func TestValidateOnce_ClowdApp(t *testing.T) {
	fake := clienttest.NewFake("c1")
	seed(fake, "ClowdApp", "app", nil, map[string]interface{}{
		"deployments": map[string]interface{}{
			"managedDeployments": int64(2),
			"readyDeployments":   int64(1),
		},
	})

	err := validateOnce(context.Background(), testClients(fake), []realize.Action{appliedAction("ClowdApp", "app")})
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Errorf("Expected NotReadyError, got: %v", err)
	}
}

func TestValidateOnce_ClowdJobInvocationFailure(t *testing.T) {
	fake := clienttest.NewFake("c1")
	seed(fake, "ClowdJobInvocation", "cji", nil, map[string]interface{}{
		"completed": true,
		"jobMap":    map[string]interface{}{"cji-1": "Complete", "cji-2": "Failed"},
	})

	err := validateOnce(context.Background(), testClients(fake), []realize.Action{appliedAction("ClowdJobInvocation", "cji")})
	var failed *JobFailedError
	if !errors.As(err, &failed) {
		t.Errorf("Expected JobFailedError for failed invocation job, got: %v", err)
	}
}

func TestActions_JobFailureIsNotRetried(t *testing.T) {
	fake := clienttest.NewFake("c1")
	seed(fake, "Job", "run", nil, map[string]interface{}{
		"conditions": []interface{}{
			map[string]interface{}{"type": "Failed", "reason": "OOMKilled"},
		},
	})

	// A terminal job failure must abort on the first attempt; a retried
	// failure would keep this test busy for minutes.
	err := Actions(context.Background(), testClients(fake), []realize.Action{appliedAction("Job", "run")})
	var failed *JobFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Expected JobFailedError, got: %v", err)
	}
	if gets := fake.Calls("Get"); len(gets) != 1 {
		t.Errorf("Expected a single validation attempt, got %d", len(gets))
	}
}

func TestActions_NoSupportedActions(t *testing.T) {
	fake := clienttest.NewFake("c1")
	if err := Actions(context.Background(), testClients(fake), nil); err != nil {
		t.Errorf("Expected no error for empty action list, got: %v", err)
	}
}
