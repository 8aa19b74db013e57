package ir

import "fmt"

// Resource is a single declared unit of managed infrastructure,
// identified by its (type, name) pair.
type Resource struct {
	Type      string         `pkl:"type" json:"type"` // e.g. "docker_container"
	Name      string         `pkl:"name" json:"name"`
	Provider  string         `pkl:"provider" json:"provider"`
	Lifecycle *Lifecycle     `pkl:"lifecycle" json:"lifecycle,omitempty"`
	DependsOn []string       `pkl:"dependsOn" json:"dependsOn,omitempty"`
	Count     int            `pkl:"count" json:"count,omitempty"`
	ForEach   map[string]any `pkl:"forEach" json:"forEach,omitempty"`
	Arguments map[string]any `pkl:"arguments" json:"arguments"` // literals or ptr:// references
}

// Addr returns the resource address (type.name), the unique key for a
// resource within a configuration and within state.
func (r *Resource) Addr() string {
	t := r.Type
	if t == "" {
		t = "null_resource"
	}
	return fmt.Sprintf("%s.%s", t, r.Name)
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `pkl:"createBeforeDestroy" json:"createBeforeDestroy,omitempty"`
	PreventDestroy      bool     `pkl:"preventDestroy" json:"preventDestroy,omitempty"`
	IgnoreChanges       []string `pkl:"ignoreChanges" json:"ignoreChanges,omitempty"`
}
