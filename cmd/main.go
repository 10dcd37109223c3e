/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/stategraph-sh/reconciler/internal/buildinfo"
	"github.com/stategraph-sh/reconciler/internal/client"
	"github.com/stategraph-sh/reconciler/internal/config"
	"github.com/stategraph-sh/reconciler/internal/fetch"
	"github.com/stategraph-sh/reconciler/internal/hooks"
	"github.com/stategraph-sh/reconciler/internal/hooks/pubsub"
	"github.com/stategraph-sh/reconciler/internal/hooks/webhook"
	"github.com/stategraph-sh/reconciler/internal/inventory"
	"github.com/stategraph-sh/reconciler/internal/realize"
	"github.com/stategraph-sh/reconciler/internal/specs"
	"github.com/stategraph-sh/reconciler/internal/validate"
)

var setupLog = ctrl.Log.WithName("setup")

// runConfig holds all command-line configuration
type runConfig struct {
	integration            string
	configEndpoint         string
	configToken            string
	dryRun                 bool
	threadPoolSize         int
	takeOver               bool
	caller                 string
	overrideEnableDeletion string
	waitForNamespace       bool
	noDryRunSkipCompare    bool
	recyclePods            bool
	clusterScoped          bool
	managedKinds           []string
	runValidation          bool
	followLogsDir          string
	reportWebhookURL       string
	reportPubsubTopic      string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "reconciler",
		Short:   "Converges declared cluster configuration against live state",
		Version: buildinfo.IntegrationVersion(),
	}
	root.AddCommand(runCmd())
	return root
}

func runCmd() *cobra.Command {
	var cfg runConfig

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconcile pass",
		Long: `Fetches the declared desired state from the configuration API,
builds a per-cluster inventory of current resources, and applies
create/update/delete actions to converge live state toward desired state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := zap.Options{Development: false}
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
			return run(ctrl.SetupSignalHandler(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.integration, "integration", "cluster-resources",
		"Name of this integration, recorded in provenance annotations.")
	flags.StringVar(&cfg.configEndpoint, "config-endpoint", os.Getenv("CONFIG_ENDPOINT"),
		"URL of the configuration graph API.")
	flags.StringVar(&cfg.configToken, "config-token", os.Getenv("CONFIG_TOKEN"),
		"Bearer token for the configuration graph API.")
	flags.BoolVar(&cfg.dryRun, "dry-run", false,
		"Suppress all mutating calls; still compute and report the action list.")
	flags.IntVar(&cfg.threadPoolSize, "thread-pool-size", 10,
		"Worker count for fetch, realize, and validation phases.")
	flags.BoolVar(&cfg.takeOver, "take-over", false,
		"Claim exclusive management of the kinds in scope, including deletion of unmanaged objects.")
	flags.StringVar(&cfg.caller, "caller", "",
		"Identity of this reconciler instance; enables multiple instances to share a namespace.")
	flags.StringVar(&cfg.overrideEnableDeletion, "override-enable-deletion", "",
		"Override the computed enable-deletion value ('true' or 'false'); can only narrow, never force.")
	flags.BoolVar(&cfg.waitForNamespace, "wait-for-namespace", false,
		"Wait for a target namespace to exist instead of skipping the apply.")
	flags.BoolVar(&cfg.noDryRunSkipCompare, "no-dry-run-skip-compare", false,
		"Skip resource comparison when not in dry-run mode.")
	flags.BoolVar(&cfg.recyclePods, "recycle-pods", true,
		"Signal dependent workloads to restart after applies.")
	flags.BoolVar(&cfg.clusterScoped, "cluster-scoped", false,
		"Reconcile cluster declarations instead of namespace declarations.")
	flags.StringSliceVar(&cfg.managedKinds, "managed-kind", nil,
		"Override the managed resource types (repeatable); required with --cluster-scoped.")
	flags.BoolVar(&cfg.runValidation, "validate", false,
		"Poll applied resources until their status reports convergence.")
	flags.StringVar(&cfg.followLogsDir, "follow-logs-dir", "",
		"Directory to collect job logs into; empty disables log following.")
	flags.StringVar(&cfg.reportWebhookURL, "report-webhook-url", "",
		"HTTP endpoint to publish the run report to.")
	flags.StringVar(&cfg.reportPubsubTopic, "report-pubsub-topic", os.Getenv("REPORT_PUBSUB_TOPIC"),
		"Google Cloud Pub/Sub topic path (projects/<project>/topics/<topic>) for run reports.")

	return cmd
}

func run(ctx context.Context, cfg runConfig) error {
	version := buildinfo.IntegrationVersion()
	setupLog.Info("starting reconcile run",
		"integration", cfg.integration, "version", version, "dryRun", cfg.dryRun)

	if cfg.configEndpoint == "" {
		return fmt.Errorf("config-endpoint is required")
	}
	if cfg.clusterScoped && len(cfg.managedKinds) == 0 {
		return fmt.Errorf("cluster-scoped runs require at least one --managed-kind")
	}

	configClient := config.NewClient(cfg.configEndpoint, cfg.configToken)
	clients := client.NewMap(cfg.integration)

	var namespaces []config.Namespace
	var clusters []config.Cluster
	var err error
	if cfg.clusterScoped {
		clusters, err = configClient.Clusters(ctx)
		if err != nil {
			return fmt.Errorf("fetching cluster declarations: %w", err)
		}
		registerClusterConnections(clients, clusters)
	} else {
		namespaces, err = configClient.Namespaces(ctx)
		if err != nil {
			return fmt.Errorf("fetching namespace declarations: %w", err)
		}
		registerNamespaceConnections(clients, namespaces)
	}

	ri := inventory.New()
	stateSpecs, err := specs.Build(ctx, ri, clients, namespaces, clusters, managedKindsOverride(cfg))
	if err != nil {
		return fmt.Errorf("building state specs: %w", err)
	}

	fetchOpts := fetch.Options{
		Integration:        cfg.integration,
		IntegrationVersion: version,
		Caller:             cfg.caller,
		ThreadPoolSize:     cfg.threadPoolSize,
	}
	fetch.CurrentState(ctx, ri, stateSpecs, fetchOpts)
	if err := fetch.DesiredState(ctx, ri, stateSpecs, fetchOpts); err != nil {
		// A duplicate desired key is a configuration conflict, not an
		// infrastructure failure; it fails the run immediately.
		return fmt.Errorf("populating desired state: %w", err)
	}

	overrideDeletion, err := parseTriState(cfg.overrideEnableDeletion)
	if err != nil {
		return err
	}
	actions := realize.Run(ctx, clients, ri, realize.Options{
		DryRun:                 cfg.dryRun,
		ThreadPoolSize:         cfg.threadPoolSize,
		TakeOver:               cfg.takeOver,
		Caller:                 cfg.caller,
		WaitForNamespace:       cfg.waitForNamespace,
		NoDryRunSkipCompare:    cfg.noDryRunSkipCompare,
		OverrideEnableDeletion: overrideDeletion,
		RecyclePods:            cfg.recyclePods,
	})
	realize.CheckUnusedResourceTypes(ctx, ri)

	validationFailed := false
	if cfg.runValidation && !cfg.dryRun {
		if err := validate.Actions(ctx, clients, actions); err != nil {
			// The actions succeeded; convergence to healthy status did not.
			setupLog.Error(err, "validation of applied resources failed")
			validationFailed = true
		}
	}
	if cfg.followLogsDir != "" && !cfg.dryRun {
		validate.FollowLogs(ctx, clients, actions, cfg.followLogsDir)
	}

	report := hooks.NewRunReport(cfg.integration, version, cfg.dryRun, ri.HasErrors(), actions)
	hooks.PublishAll(ctx, buildPublishers(ctx, cfg), report)

	setupLog.Info("reconcile run finished",
		"applied", report.Applied, "deleted", report.Deleted, "errors", ri.HasErrors())
	if ri.HasErrors() || validationFailed {
		os.Exit(1)
	}
	return nil
}

func registerNamespaceConnections(clients *client.Map, namespaces []config.Namespace) {
	for _, ns := range namespaces {
		clients.AddConnection(client.Connection{
			Name:                  ns.Cluster.Name,
			Server:                ns.Cluster.ServerURL,
			Token:                 ns.Cluster.AutomationToken,
			InsecureSkipTLSVerify: ns.Cluster.InsecureSkipTLSVerify,
		}, false)
		if ns.Cluster.ClusterAdminToken != "" {
			clients.AddConnection(client.Connection{
				Name:                  ns.Cluster.Name,
				Server:                ns.Cluster.ServerURL,
				Token:                 ns.Cluster.ClusterAdminToken,
				InsecureSkipTLSVerify: ns.Cluster.InsecureSkipTLSVerify,
			}, true)
		}
	}
}

func registerClusterConnections(clients *client.Map, clusters []config.Cluster) {
	for _, cl := range clusters {
		clients.AddConnection(client.Connection{
			Name:                  cl.Name,
			Server:                cl.ServerURL,
			Token:                 cl.AutomationToken,
			InsecureSkipTLSVerify: cl.InsecureSkipTLSVerify,
		}, false)
	}
}

func managedKindsOverride(cfg runConfig) []string {
	if len(cfg.managedKinds) == 0 {
		return nil
	}
	return cfg.managedKinds
}

func parseTriState(value string) (*bool, error) {
	switch value {
	case "":
		return nil, nil
	case "true":
		v := true
		return &v, nil
	case "false":
		v := false
		return &v, nil
	default:
		return nil, fmt.Errorf("override-enable-deletion must be 'true', 'false', or empty, got %q", value)
	}
}

func buildPublishers(ctx context.Context, cfg runConfig) []hooks.ReportPublisher {
	var publishers []hooks.ReportPublisher

	if cfg.reportWebhookURL != "" {
		publishers = append(publishers, webhook.NewPublisher(cfg.reportWebhookURL))
		setupLog.Info("webhook report publisher enabled", "endpoint", cfg.reportWebhookURL)
	}
	if cfg.reportPubsubTopic != "" {
		pubsubPublisher, err := pubsub.NewPublisher(ctx, cfg.reportPubsubTopic)
		if err != nil {
			setupLog.Error(err, "unable to create Pub/Sub publisher",
				"hint", "Ensure valid credentials via Workload Identity, GOOGLE_APPLICATION_CREDENTIALS, or gcloud auth")
		} else {
			publishers = append(publishers, pubsubPublisher)
			setupLog.Info("Pub/Sub report publisher enabled", "topic", cfg.reportPubsubTopic)
		}
	}
	if len(publishers) == 0 {
		setupLog.Info("no report publishers configured")
	}
	return publishers
}
