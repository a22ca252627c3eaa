package core

import (
	"context"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// ResolveLogger applies provider > logger > nop precedence and returns a
// named logger that is never nil.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) Logger {
	resolvedProvider, resolved := glog.Resolve(name, provider, logger)
	resolved = glog.Ensure(resolved)
	if resolvedProvider != nil {
		if named := resolvedProvider.GetLogger(name); named != nil {
			resolved = glog.Ensure(named)
		}
	}
	return resolved
}

// Log writes a structured record. Fields are attached through WithFields
// when the logger supports it and always flattened into sorted key/value
// arguments.
func Log(ctx context.Context, logger Logger, level string, message string, fields map[string]any) {
	if logger == nil {
		return
	}
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(CloneFields(fields))
	}
	args := FlattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logger.Debug(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func CloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func FlattenFields(fields map[string]any) []any {
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
