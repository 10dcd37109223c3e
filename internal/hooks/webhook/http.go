package webhook

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stategraph-sh/reconciler/internal/hooks"
)

// Publisher posts run reports to an HTTP endpoint.
type Publisher struct {
	client   *resty.Client
	endpoint string
}

func NewPublisher(endpoint string) *Publisher {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &Publisher{
		client:   client,
		endpoint: endpoint,
	}
}

// Publish sends the run report to the configured endpoint.
func (p *Publisher) Publish(ctx context.Context, report hooks.RunReport) error {
	logger := log.FromContext(ctx)

	logger.Info("publishing run report",
		"endpoint", p.endpoint,
		"runID", report.RunID,
		"applied", report.Applied,
		"deleted", report.Deleted,
		"errors", report.ErrorsRegistered,
	)

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(report).
		Post(p.endpoint)
	if err != nil {
		return fmt.Errorf("failed to send run report: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("report endpoint returned status %d: %s", resp.StatusCode(), resp.String())
	}

	logger.Info("run report published",
		"endpoint", p.endpoint,
		"runID", report.RunID,
		"statusCode", resp.StatusCode(),
	)
	return nil
}
