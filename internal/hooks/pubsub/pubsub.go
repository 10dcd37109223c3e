package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub/v2"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/stategraph-sh/reconciler/internal/hooks"
)

// Publisher sends run reports to Google Cloud Pub/Sub.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topicPath string
}

// ParseTopicPath parses a full Pub/Sub topic path and returns projectID and topicID.
// Expected format: projects/<project>/topics/<topic>
func ParseTopicPath(topicPath string) (projectID, topicID string, err error) {
	parts := strings.Split(topicPath, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != "topics" {
		return "", "", fmt.Errorf("invalid topic path %q: expected format projects/<project>/topics/<topic>", topicPath)
	}
	return parts[1], parts[3], nil
}

// NewPublisher creates a Pub/Sub run-report publisher.
//
// Authentication is handled via Application Default Credentials (ADC):
//   - Workload Identity (GKE): auto-detected from the metadata server
//   - Service Account JSON key: GOOGLE_APPLICATION_CREDENTIALS env var
//   - Default credentials: gcloud auth application-default login
func NewPublisher(ctx context.Context, topicPath string) (*Publisher, error) {
	projectID, topicID, err := ParseTopicPath(topicPath)
	if err != nil {
		return nil, err
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &Publisher{
		client:    client,
		publisher: client.Publisher(topicID),
		topicPath: topicPath,
	}, nil
}

// Publish sends the run report to the configured topic.
func (p *Publisher) Publish(ctx context.Context, report hooks.RunReport) error {
	logger := log.FromContext(ctx)

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	logger.Info("publishing run report to Pub/Sub",
		"topic", p.topicPath,
		"runID", report.RunID,
		"applied", report.Applied,
		"deleted", report.Deleted,
	)

	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"integration": report.Integration,
			"run_id":      report.RunID,
			"dry_run":     strconv.FormatBool(report.DryRun),
			"errors":      strconv.FormatBool(report.ErrorsRegistered),
		},
	})

	msgID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish run report to pubsub: %w", err)
	}

	logger.Info("run report published to Pub/Sub",
		"topic", p.topicPath,
		"runID", report.RunID,
		"messageID", msgID,
	)
	return nil
}

// Stop stops the publisher and closes the client.
func (p *Publisher) Stop() {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		_ = p.client.Close()
	}
}
