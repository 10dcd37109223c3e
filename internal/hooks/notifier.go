package hooks

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"
)

// ReportPublisher delivers a run report to one external destination.
type ReportPublisher interface {
	Publish(ctx context.Context, report RunReport) error
}

// PublishAll sends the report to every publisher. Publisher failures are
// logged and never affect the run's exit status.
func PublishAll(ctx context.Context, publishers []ReportPublisher, report RunReport) {
	logger := log.FromContext(ctx)
	for _, publisher := range publishers {
		if err := publisher.Publish(ctx, report); err != nil {
			logger.Error(err, "failed to publish run report", "runID", report.RunID)
		}
	}
}
