package search

// DeepGet traverses a dynamic JSON value by a sequence of keys. String
// keys index maps, int keys index slices. The second return reports
// whether the full path resolved.
func DeepGet(v any, keys ...any) (any, bool) {
	cur := v
	for _, key := range keys {
		switch k := key.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = m[k]
			if !ok {
				return nil, false
			}
		case int:
			s, ok := cur.([]any)
			if !ok || k < 0 || k >= len(s) {
				return nil, false
			}
			cur = s[k]
		default:
			return nil, false
		}
	}
	return cur, true
}

// DeepGetString resolves a path to a string, or "" when the path is
// missing or not a string.
func DeepGetString(v any, keys ...any) string {
	got, ok := DeepGet(v, keys...)
	if !ok {
		return ""
	}
	s, _ := got.(string)
	return s
}

// DeepGetInt resolves a path to an int. JSON numbers decode as
// float64; both forms are accepted.
func DeepGetInt(v any, keys ...any) int {
	got, ok := DeepGet(v, keys...)
	if !ok {
		return 0
	}
	switch n := got.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
