package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/reef-io/reef/internal/ir"
)

// ExpandForEach flattens count and for_each resources into one resource
// per instance before graph construction, so each instance is its own
// node and state record. Instance names carry the index or key
// ("worker[0]", `env["dev"]`). The ${count.index}, ${each.key} and
// ${each.value} placeholders are substituted through argument values and
// dependsOn entries, including inside ptr:// references, so an instance
// can point at its matching peer. for_each keys expand in sorted order
// to keep plans stable.
func ExpandForEach(resources []*ir.Resource) []*ir.Resource {
	expanded := make([]*ir.Resource, 0, len(resources))

	for _, res := range resources {
		switch {
		case res.Count > 0:
			for i := 0; i < res.Count; i++ {
				expanded = append(expanded, expandInstance(res, fmt.Sprintf("%s[%d]", res.Name, i), map[string]string{
					"${count.index}": strconv.Itoa(i),
				}))
			}
		case len(res.ForEach) > 0:
			keys := make([]string, 0, len(res.ForEach))
			for key := range res.ForEach {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				expanded = append(expanded, expandInstance(res, fmt.Sprintf("%s[%q]", res.Name, key), map[string]string{
					"${each.key}":   key,
					"${each.value}": fmt.Sprintf("%v", res.ForEach[key]),
				}))
			}
		default:
			expanded = append(expanded, res)
		}
	}

	return expanded
}

// expandInstance clones res as a single named instance, substituting
// placeholders through its arguments and dependsOn list. The clone shares
// nothing mutable with the original or with sibling instances.
func expandInstance(res *ir.Resource, name string, placeholders map[string]string) *ir.Resource {
	clone := &ir.Resource{
		Type:     res.Type,
		Name:     name,
		Provider: res.Provider,
	}
	if res.Lifecycle != nil {
		lc := *res.Lifecycle
		lc.IgnoreChanges = append([]string{}, res.Lifecycle.IgnoreChanges...)
		clone.Lifecycle = &lc
	}
	for _, dep := range res.DependsOn {
		clone.DependsOn = append(clone.DependsOn, substituteString(dep, placeholders))
	}
	if res.Arguments != nil {
		clone.Arguments = substituteValue(res.Arguments, placeholders).(map[string]any)
	}
	return clone
}

func substituteString(s string, placeholders map[string]string) string {
	for marker, val := range placeholders {
		s = strings.ReplaceAll(s, marker, val)
	}
	return s
}

// substituteValue deep-copies v, substituting placeholders in every
// string it contains.
func substituteValue(v any, placeholders map[string]string) any {
	switch val := v.(type) {
	case string:
		return substituteString(val, placeholders)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = substituteValue(item, placeholders)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = substituteValue(item, placeholders)
		}
		return out
	default:
		return v
	}
}
