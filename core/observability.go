package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// observeOperation records the counter/histogram pair and the structured
// log line every client operation emits on completion. Fields pass through
// redaction before they reach a sink.
func observeOperation(
	ctx context.Context,
	logger Logger,
	metrics MetricsRecorder,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}

	contextFields := RedactSensitiveMap(cloneFields(fields))
	contextFields["event_type"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"profile", "request_id", "operation_kind"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	recordCounter(ctx, metrics, "authclient."+operation+".total", 1, tags)
	recordHistogram(ctx, metrics, "authclient."+operation+".duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)

	if err != nil {
		logWithLevel(ctx, logger, "error", operation+" failed", contextFields)
		return
	}
	logWithLevel(ctx, logger, "info", operation+" succeeded", contextFields)
}

func (c *Client) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if c == nil {
		return
	}
	observeOperation(ctx, c.logger, c.metricsRecorder, startedAt, operation, err, fields)
}

func (c *Client) logInfo(ctx context.Context, message string, fields map[string]any) {
	if c == nil {
		return
	}
	logWithLevel(ctx, c.logger, "info", message, fields)
}

func (c *Client) logError(ctx context.Context, message string, fields map[string]any) {
	if c == nil {
		return
	}
	logWithLevel(ctx, c.logger, "error", message, fields)
}

func logWithLevel(ctx context.Context, logger Logger, level string, message string, fields map[string]any) {
	if logger == nil {
		return
	}
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func recordCounter(ctx context.Context, metrics MetricsRecorder, name string, value int64, tags map[string]string) {
	if metrics == nil {
		return
	}
	metrics.IncCounter(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func recordHistogram(ctx context.Context, metrics MetricsRecorder, name string, value float64, tags map[string]string) {
	if metrics == nil {
		return
	}
	metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, cloneTags(tags))
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}
