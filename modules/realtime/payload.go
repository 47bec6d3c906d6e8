package realtime

// Gateway event payloads arrive as loosely typed maps from the Socket.IO
// parser. These helpers read them defensively; a missing or mistyped field
// yields the zero value.

func eventMap(data []any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	m, _ := data[0].(map[string]any)
	return m
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func strs(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, el := range v {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
