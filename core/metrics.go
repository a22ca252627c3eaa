package core

import (
	"context"
	"strings"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// IntegrationTags builds metric tags keyed by integration. Extra values are
// read as key/value pairs; a trailing odd key is dropped.
func IntegrationTags(integrationID string, pairs ...string) map[string]string {
	tags := make(map[string]string, 1+len(pairs)/2)
	tags["integration_id"] = strings.TrimSpace(integrationID)
	for i := 0; i+1 < len(pairs); i += 2 {
		key := strings.TrimSpace(pairs[i])
		if key == "" {
			continue
		}
		tags[key] = pairs[i+1]
	}
	return tags
}

func CloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
