package engine

import "fmt"

// normalizeValue canonicalizes an argument value for comparison and for
// handing to providers: map keys become strings, numeric types collapse
// to float64 (matching what JSON state round-trips produce), and nested
// containers are copied.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		newMap := make(map[string]any, len(val))
		for k, v := range val {
			newMap[stringify(k)] = normalizeValue(v)
		}
		return newMap
	case map[string]any:
		newMap := make(map[string]any, len(val))
		for k, v := range val {
			newMap[k] = normalizeValue(v)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = normalizeValue(v)
		}
		return newSlice
	case int:
		return float64(val)
	case int8:
		return float64(val)
	case int16:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint:
		return float64(val)
	case uint8:
		return float64(val)
	case uint16:
		return float64(val)
	case uint32:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}

func normalizeArguments(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return normalizeValue(args).(map[string]any)
}

// NormalizeAttributes canonicalizes an attribute map the way a JSON state
// round trip does, so freshly read provider values compare structurally
// against stored ones.
func NormalizeAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	return normalizeValue(attrs).(map[string]any)
}

func stringify(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", k)
}

// ResolveOutputs resolves ptr:// references in root output values
// against the store. Unresolvable references pass through as literals.
func ResolveOutputs(outputs map[string]any, store Store) map[string]any {
	if outputs == nil {
		return nil
	}
	return resolveRefs(outputs, store).(map[string]any)
}

// resolveRefs replaces ptr:// references with the target resource's
// stored attribute value. References whose target attribute is not yet
// materialized are left as-is, so planning treats them as changed and
// execution resolves them just-in-time once the dependency completes.
func resolveRefs(v any, store Store) any {
	switch val := v.(type) {
	case string:
		typ, name, attr, ok := RefParts(val)
		if !ok {
			return val
		}
		rs, found := store.Get(typ + "." + name)
		if !found {
			return val
		}
		if resolved, ok := rs.Attributes[attr]; ok {
			return resolved
		}
		if resolved, ok := rs.Arguments[attr]; ok {
			return resolved
		}
		return val
	case map[string]any:
		newMap := make(map[string]any, len(val))
		for k, v := range val {
			newMap[k] = resolveRefs(v, store)
		}
		return newMap
	case map[any]any:
		newMap := make(map[string]any, len(val))
		for k, v := range val {
			newMap[stringify(k)] = resolveRefs(v, store)
		}
		return newMap
	case []any:
		newSlice := make([]any, len(val))
		for i, v := range val {
			newSlice[i] = resolveRefs(v, store)
		}
		return newSlice
	default:
		return val
	}
}
