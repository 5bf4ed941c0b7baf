package auth

import "strings"

func cloneHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}

// cloneSubject keeps nil for an absent user payload so callers can tell
// "response carried no user" apart from "response carried an empty user".
func cloneSubject(subject map[string]any) map[string]any {
	if len(subject) == 0 {
		return nil
	}
	out := make(map[string]any, len(subject))
	for key, value := range subject {
		out[key] = value
	}
	return out
}
