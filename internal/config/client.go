package config

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const namespacesQuery = `
{
  namespaces: namespaces_v1 {
    name
    cluster { name serverUrl automationToken clusterAdminAutomationToken insecureSkipTLSVerify }
    clusterAdmin
    managedResourceTypes
    managedResourceNames { resource resourceNames }
    managedResourceTypeOverrides { resource override }
    sharedResources { resources { provider manifest } }
    resources { provider manifest }
  }
}`

const clustersQuery = `
{
  clusters: clusters_v1 {
    name
    serverUrl
    automationToken
    insecureSkipTLSVerify
    resources { provider manifest }
  }
}`

// Client fetches the declared desired-state snapshot from the
// configuration graph API. The snapshot is read-only for the duration of
// one reconcile run.
type Client struct {
	http     *resty.Client
	endpoint string
}

func NewClient(endpoint, token string) *Client {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)
	if token != "" {
		client.SetAuthToken(token)
	}

	return &Client{
		http:     client,
		endpoint: endpoint,
	}
}

type graphRequest struct {
	Query string `json:"query"`
}

type graphError struct {
	Message string `json:"message"`
}

type namespacesResponse struct {
	Data struct {
		Namespaces []Namespace `json:"namespaces"`
	} `json:"data"`
	Errors []graphError `json:"errors,omitempty"`
}

type clustersResponse struct {
	Data struct {
		Clusters []Cluster `json:"clusters"`
	} `json:"data"`
	Errors []graphError `json:"errors,omitempty"`
}

// Namespaces returns all namespace declarations, with shared resources
// already aggregated.
func (c *Client) Namespaces(ctx context.Context) ([]Namespace, error) {
	logger := log.FromContext(ctx)

	var out namespacesResponse
	if err := c.query(ctx, namespacesQuery, &out); err != nil {
		return nil, err
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("configuration query failed: %s", out.Errors[0].Message)
	}

	namespaces := out.Data.Namespaces
	for i := range namespaces {
		AggregateSharedResources(&namespaces[i])
	}
	logger.V(1).Info("fetched namespace declarations", "count", len(namespaces))
	return namespaces, nil
}

// Clusters returns all cluster declarations.
func (c *Client) Clusters(ctx context.Context) ([]Cluster, error) {
	var out clustersResponse
	if err := c.query(ctx, clustersQuery, &out); err != nil {
		return nil, err
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("configuration query failed: %s", out.Errors[0].Message)
	}
	return out.Data.Clusters, nil
}

func (c *Client) query(ctx context.Context, query string, result interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(graphRequest{Query: query}).
		SetResult(result).
		Post(c.endpoint)
	if err != nil {
		return fmt.Errorf("querying configuration API: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("configuration API returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
