package classify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResponseError carries a raw failure response for callers that hold one.
// Status 0 with Timeout false means no response was received at all.
type ResponseError struct {
	Status  int
	Header  map[string]string
	Body    []byte
	Timeout bool
}

func (e *ResponseError) Error() string {
	if e == nil {
		return "classify: <nil response error>"
	}
	if e.Timeout {
		return "classify: request timed out"
	}
	if e.Status == 0 {
		return "classify: no response received"
	}
	return fmt.Sprintf("classify: request failed with status %d", e.Status)
}

// ParsedBody is what the engine could read out of a failure payload.
type ParsedBody struct {
	Message     string
	Code        string
	FieldErrors map[string]string
}

// ParseBody reads the recognized failure-payload shapes: `message`/`error`
// strings, a `code` string, and an `errors` map of field to message or
// field to message list. Anything else is ignored, never an error.
func ParseBody(header map[string]string, body []byte) ParsedBody {
	parsed := ParsedBody{}
	if len(body) == 0 {
		return parsed
	}
	if contentType := headerValue(header, "Content-Type"); contentType != "" &&
		!strings.Contains(strings.ToLower(contentType), "json") {
		return parsed
	}

	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return parsed
	}

	if message, ok := payload["message"].(string); ok && strings.TrimSpace(message) != "" {
		parsed.Message = strings.TrimSpace(message)
	}
	if parsed.Message == "" {
		if message, ok := payload["error"].(string); ok && strings.TrimSpace(message) != "" {
			parsed.Message = strings.TrimSpace(message)
		}
	}
	if code, ok := payload["code"].(string); ok && strings.TrimSpace(code) != "" {
		parsed.Code = strings.TrimSpace(code)
	}
	if fieldErrors, ok := payload["errors"].(map[string]any); ok && len(fieldErrors) > 0 {
		parsed.FieldErrors = flattenFieldErrors(fieldErrors)
	}
	return parsed
}

func flattenFieldErrors(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for field, value := range raw {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		switch typed := value.(type) {
		case string:
			if strings.TrimSpace(typed) != "" {
				out[field] = strings.TrimSpace(typed)
			}
		case []any:
			messages := make([]string, 0, len(typed))
			for _, entry := range typed {
				if message, ok := entry.(string); ok && strings.TrimSpace(message) != "" {
					messages = append(messages, strings.TrimSpace(message))
				}
			}
			if len(messages) > 0 {
				out[field] = strings.Join(messages, "; ")
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func headerValue(header map[string]string, name string) string {
	for key, value := range header {
		if strings.EqualFold(strings.TrimSpace(key), name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
