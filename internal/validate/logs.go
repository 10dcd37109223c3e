package validate

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stategraph-sh/reconciler/internal/client"
	"github.com/stategraph-sh/reconciler/internal/realize"
)

var logFollowKinds = map[string]bool{
	"Job":                true,
	"ClowdJobInvocation": true,
}

// FollowLogs streams container logs for applied job-like actions into
// per-resource files under dir. Best effort: failures are logged and never
// affect the run's exit status.
func FollowLogs(ctx context.Context, clients *client.Map, actions []realize.Action, dir string) {
	logger := log.FromContext(ctx)

	for _, action := range actions {
		if action.Type != realize.ActionApplied || !logFollowKinds[action.Kind] {
			continue
		}
		logger.Info("collecting logs", "cluster", action.Cluster,
			"namespace", action.Namespace, "kind", action.Kind, "name", action.Name)

		cl, err := clients.Get(action.Cluster, false)
		if err != nil {
			logger.Error(err, "cannot resolve cluster client", "cluster", action.Cluster)
			continue
		}

		switch action.Kind {
		case "Job":
			if err := cl.StreamLogs(ctx, action.Namespace, action.Name, dir); err != nil {
				logger.Error(err, "streaming job logs failed", "name", action.Name)
			}
		case "ClowdJobInvocation":
			obj, err := cl.Get(ctx, action.Namespace, action.Kind, action.Name)
			if err != nil {
				logger.Error(err, "fetching job invocation failed", "name", action.Name)
				continue
			}
			jobs, _, _ := unstructured.NestedStringMap(obj.Object, "status", "jobMap")
			for jobName := range jobs {
				logger.Info("collecting logs", "cluster", action.Cluster,
					"namespace", action.Namespace, "kind", action.Kind, "job", jobName)
				if err := cl.StreamLogs(ctx, action.Namespace, jobName, dir); err != nil {
					logger.Error(err, "streaming job logs failed", "job", jobName)
				}
			}
		}
	}
}
