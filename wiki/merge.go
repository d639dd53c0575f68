package wiki

// mergeObject deep-merges src into dst in place.
func mergeObject(dst, src Object) {
	for key, incoming := range src {
		existing, ok := dst[key]
		if !ok {
			dst[key] = incoming
			continue
		}
		dst[key] = mergeValue(existing, incoming)
	}
}

// mergeValue combines two values found under the same key: objects merge
// recursively, an incoming array is appended to an existing one, anything
// else is replaced by the incoming value. Merged objects keep their original
// dynamic type.
func mergeValue(existing, incoming any) any {
	switch in := incoming.(type) {
	case map[string]any, Object:
		src, _ := asObject(in)
		dst, ok := asObject(existing)
		if !ok {
			return incoming
		}
		mergeObject(dst, src)
		return existing
	case []any:
		if prev, ok := existing.([]any); ok {
			return append(prev, in...)
		}
		return incoming
	default:
		return incoming
	}
}
