package realize

// ActionType is the outcome category of one realize decision.
type ActionType string

const (
	ActionApplied ActionType = "applied"
	ActionDeleted ActionType = "deleted"
)

// Action records one apply or delete outcome. Immutable once created;
// consumed by validation, log following, and run reporting.
type Action struct {
	Type       ActionType
	Cluster    string
	Namespace  string
	Kind       string
	Name       string
	Privileged bool
}
