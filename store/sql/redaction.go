package sqlstore

import (
	"github.com/goliatone/go-authclient/core"
)

// redactMetadata scrubs sensitive keys before metadata reaches a jsonb
// column. The column is NOT NULL, so an empty map stands in for nil.
func redactMetadata(metadata map[string]any) map[string]any {
	redacted := core.RedactSensitiveMap(metadata)
	if redacted == nil {
		return map[string]any{}
	}
	return redacted
}
