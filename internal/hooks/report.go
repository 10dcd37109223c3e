package hooks

import (
	"time"

	"github.com/google/uuid"

	"github.com/stategraph-sh/reconciler/internal/realize"
)

// ActionRecord is the wire form of one realize action.
type ActionRecord struct {
	Action     string `json:"action"`
	Cluster    string `json:"cluster"`
	Namespace  string `json:"namespace"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Privileged bool   `json:"privileged"`
}

// RunReport summarizes one reconcile run for external consumers.
type RunReport struct {
	RunID              string         `json:"runId"`
	Integration        string         `json:"integration"`
	IntegrationVersion string         `json:"integrationVersion"`
	Timestamp          string         `json:"timestamp"`
	DryRun             bool           `json:"dryRun"`
	Applied            int            `json:"applied"`
	Deleted            int            `json:"deleted"`
	ErrorsRegistered   bool           `json:"errorsRegistered"`
	Actions            []ActionRecord `json:"actions"`
}

// NewRunReport builds a report from the run's action log.
func NewRunReport(integration, version string, dryRun, errorsRegistered bool, actions []realize.Action) RunReport {
	report := RunReport{
		RunID:              uuid.New().String(),
		Integration:        integration,
		IntegrationVersion: version,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		DryRun:             dryRun,
		ErrorsRegistered:   errorsRegistered,
	}
	for _, a := range actions {
		report.Actions = append(report.Actions, ActionRecord{
			Action:     string(a.Type),
			Cluster:    a.Cluster,
			Namespace:  a.Namespace,
			Kind:       a.Kind,
			Name:       a.Name,
			Privileged: a.Privileged,
		})
		switch a.Type {
		case realize.ActionApplied:
			report.Applied++
		case realize.ActionDeleted:
			report.Deleted++
		}
	}
	return report
}
