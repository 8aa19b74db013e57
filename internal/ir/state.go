package ir

import "fmt"

// State is the persisted record of everything reef manages.
type State struct {
	Version   int              `json:"version"`
	Serial    int              `json:"serial"`
	Lineage   string           `json:"lineage"`
	Resources []*ResourceState `json:"resources"`
	Outputs   map[string]any   `json:"outputs,omitempty"`
}

// ResourceState is the persisted record of one resource: the arguments
// last applied and the attributes the provider returned (including any
// generated identifiers).
type ResourceState struct {
	Type         string         `json:"type"`
	Name         string         `json:"name"`
	Provider     string         `json:"provider"`
	Arguments    map[string]any `json:"arguments"`
	Attributes   map[string]any `json:"attributes"`
	Dependencies []string       `json:"dependencies,omitempty"`
}

// Addr returns the resource address (type.name).
func (rs *ResourceState) Addr() string {
	return fmt.Sprintf("%s.%s", rs.Type, rs.Name)
}

// ID returns the provider-generated identifier, if one was recorded.
func (rs *ResourceState) ID() string {
	if rs.Attributes == nil {
		return ""
	}
	if id, ok := rs.Attributes["id"]; ok {
		return fmt.Sprintf("%v", id)
	}
	return ""
}
