package ir

// Action is the reconciliation action chosen for one resource.
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionReplace Action = "REPLACE"
	ActionDelete  Action = "DELETE"
	ActionNoOp    Action = "NOOP"
)

// Plan is an ordered sequence of reconciliation actions. It is immutable
// once computed and consumed exactly once by the executor.
type Plan struct {
	Metadata *PlanMetadata     `json:"metadata"`
	Entries  []*PlanEntry      `json:"entries"`
	Summary  *PlanSummary      `json:"summary"`
	Errors   map[string]string `json:"errors,omitempty"` // per-address diff failures
	Outputs  map[string]any    `json:"outputs,omitempty"`
}

type PlanMetadata struct {
	Timestamp string `json:"timestamp"`
}

// PlanEntry is one scheduled action. Each address appears in at most one
// entry; a Replace entry performs its delete and create as an ordered pair
// internally, directed by CreateBeforeDestroy.
type PlanEntry struct {
	Address             string                   `json:"address"`
	Action              Action                   `json:"action"`
	Reason              string                   `json:"reason"`
	CreateBeforeDestroy bool                     `json:"createBeforeDestroy,omitempty"`
	Desired             *Resource                `json:"desired,omitempty"`
	Prior               *ResourceState           `json:"prior,omitempty"`
	Diff                map[string]*ArgumentDiff `json:"diff,omitempty"`
}

// ArgumentDiff records the before/after values of a single changed argument.
type ArgumentDiff struct {
	Before            any    `json:"before,omitempty"`
	After             any    `json:"after,omitempty"`
	ForcesReplacement bool   `json:"forcesReplacement,omitempty"`
	Action            string `json:"action"` // "create", "update", "delete"
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Replace int `json:"replace"`
	Delete  int `json:"delete"`
	NoOp    int `json:"noop"`
}
