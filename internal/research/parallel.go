package research

import (
	"context"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type extraction struct {
	data any
	ok   bool
}

// ResearchWithParallelSchemas explores query once without a schema, then
// derives one view per schema from every answered node. The extraction pass
// only reads the tree; it neither consults nor changes the visited set.
func (e *Engine) ResearchWithParallelSchemas(ctx context.Context, query string, schemas map[string]Schema) MultiSchemaResult {
	if ctx == nil {
		ctx = context.Background()
	}
	tree := e.Research(ctx, query, nil)
	result := MultiSchemaResult{
		Query:           query,
		Tree:            tree,
		Views:           make(map[string][]ViewEntry, len(schemas)),
		TotalNodes:      CountNodes(tree),
		MaxDepthReached: MaxDepthReached(tree),
	}

	answered := answeredNodes(tree)
	names := schemaNames(schemas)
	slots := make(map[string][]extraction, len(names))
	for _, name := range names {
		slots[name] = make([]extraction, len(answered))
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.SchemaConcurrency)
	for _, name := range names {
		schema := schemas[name]
		out := slots[name]
		for i, node := range answered {
			g.Go(func() error {
				data, ok := e.Extract(ctx, node.Response, schema)
				out[i] = extraction{data: data, ok: ok}
				return nil
			})
		}
	}
	_ = g.Wait()

	for _, name := range names {
		entries := make([]ViewEntry, 0, len(answered))
		for i, got := range slots[name] {
			if !got.ok {
				continue
			}
			entries = append(entries, ViewEntry{
				Depth: answered[i].Depth,
				Query: answered[i].Query,
				Data:  got.data,
			})
		}
		result.Views[name] = entries
		e.emit(Progress{Kind: ProgressViewDone, Query: query, Schema: name, Detail: strconv.Itoa(len(entries))})
	}

	e.logger.Info("parallel schema research completed",
		zap.Int("nodes", result.TotalNodes),
		zap.Int("max_depth", result.MaxDepthReached),
		zap.Int("answered", len(answered)),
		zap.Strings("schemas", names),
	)
	return result
}

func schemaNames(schemas map[string]Schema) []string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
