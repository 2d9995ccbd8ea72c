package research

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const defaultPipelineTopics = 2

func TopicsSchema() Schema {
	return Schema{
		"type": "object",
		"properties": map[string]any{
			"topics": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"maxItems": 3,
			},
		},
		"required":             []any{"topics"},
		"additionalProperties": false,
	}
}

// Pipeline researches query for an overview, extracts its main topics, and
// runs a fresh traversal on each of the first topicLimit of them. The visited
// set is cleared before every deep dive.
func (e *Engine) Pipeline(ctx context.Context, query string, topicLimit int) PipelineResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if topicLimit < 1 {
		topicLimit = defaultPipelineTopics
	}

	overview := e.Research(ctx, query, nil)
	result := PipelineResult{Query: query, Overview: overview, DeepDives: []*Node{}}
	if !overview.HasResponse() {
		return result
	}

	data, ok := e.Extract(ctx, overview.Response, TopicsSchema())
	if !ok {
		e.logger.Info("pipeline found no topics", zap.String("query", trimToRunes(query, 80)))
		return result
	}
	result.Topics = topicsFrom(data)
	e.emit(Progress{Kind: ProgressTopicsDone, Query: query, Detail: strconv.Itoa(len(result.Topics))})

	dives := result.Topics
	if len(dives) > topicLimit {
		dives = dives[:topicLimit]
	}
	for _, topic := range dives {
		e.Reset()
		result.DeepDives = append(result.DeepDives, e.Research(ctx, buildDeepDiveQuery(topic), nil))
	}
	return result
}

func topicsFrom(data any) []string {
	obj, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	var topics []string
	for _, item := range stringList(obj["topics"]) {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		key := normalizeQuery(trimmed)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		topics = append(topics, trimmed)
	}
	return topics
}
