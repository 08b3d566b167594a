package store

import "taskexec/internal/taskexec/instrument"

// resolveTempRefs walks v recursively, replacing any {"$tempRef": tempID}
// marker with the real id resolved for tempID. Maps and slices are copied;
// scalar values are returned unchanged. Returns ErrUnresolvedTempRef if a
// marker names a temp id missing from resolved.
func resolveTempRefs(v any, resolved map[string]string) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if tempID, ok := val[instrument.TempRefKey]; ok && len(val) == 1 {
			id, _ := tempID.(string)
			real, ok := resolved[id]
			if !ok {
				return nil, ErrUnresolvedTempRef
			}
			return real, nil
		}
		out := make(map[string]any, len(val))
		for k, elem := range val {
			resolvedElem, err := resolveTempRefs(elem, resolved)
			if err != nil {
				return nil, err
			}
			out[k] = resolvedElem
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			resolvedElem, err := resolveTempRefs(elem, resolved)
			if err != nil {
				return nil, err
			}
			out[i] = resolvedElem
		}
		return out, nil
	default:
		return v, nil
	}
}
