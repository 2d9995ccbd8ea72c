package research

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func viewQuerier() *scriptedQuerier {
	return &scriptedQuerier{
		gaps: map[string][]string{
			"root":  {"alpha", "broken", "beta"},
			"alpha": {"root"},
		},
		failures: map[string]error{"broken": context.DeadlineExceeded},
		extract: func(prompt string) (string, error) {
			switch {
			case strings.Contains(prompt, "\"people\""):
				if strings.Contains(prompt, "answer: alpha") {
					return "{\"people\":[\"Ada\"]}", nil
				}
				return "no entities here", nil
			case strings.Contains(prompt, "\"main_points\""):
				for _, q := range []string{"root", "alpha", "beta"} {
					if strings.Contains(prompt, "answer: "+q+"\"") {
						return "```json\n{\"main_points\":[\"" + q + "\"]}\n```", nil
					}
				}
			}
			return "", nil
		},
	}
}

func TestResearchWithParallelSchemasBuildsViews(t *testing.T) {
	defer goleak.VerifyNone(t)

	querier := viewQuerier()
	engine := NewEngine(querier, testConfig(3))
	schemas := DefaultViewSchemas()

	result := engine.ResearchWithParallelSchemas(context.Background(), "root", schemas)

	if result.TotalNodes != 5 || result.MaxDepthReached != 2 {
		t.Fatalf("unexpected aggregates: nodes=%d depth=%d", result.TotalNodes, result.MaxDepthReached)
	}
	if result.Tree.ExtractedData != nil {
		t.Fatal("the traversal itself should not extract")
	}

	want := map[string][]ViewEntry{
		"key_points": {
			{Depth: 0, Query: "root", Data: map[string]any{"main_points": []any{"root"}}},
			{Depth: 1, Query: "alpha", Data: map[string]any{"main_points": []any{"alpha"}}},
			{Depth: 1, Query: "beta", Data: map[string]any{"main_points": []any{"beta"}}},
		},
		"entities": {
			{Depth: 1, Query: "alpha", Data: map[string]any{"people": []any{"Ada"}}},
		},
		"timeline": {},
	}
	if diff := cmp.Diff(want, result.Views); diff != "" {
		t.Fatalf("views mismatch (-want +got):\n%s", diff)
	}

	if got := querier.extractionCalls(); got != len(schemas)*3 {
		t.Fatalf("expected one extraction per schema per answered node, got %d", got)
	}
	if engine.VisitedCount() != 4 {
		t.Fatalf("extraction pass must leave the visited set alone, got %d", engine.VisitedCount())
	}
}

func TestResearchWithParallelSchemasConcurrentMatchesSequential(t *testing.T) {
	defer goleak.VerifyNone(t)

	sequential := NewEngine(viewQuerier(), testConfig(3)).
		ResearchWithParallelSchemas(context.Background(), "root", DefaultViewSchemas())

	cfg := testConfig(3)
	cfg.SchemaConcurrency = 4
	concurrent := NewEngine(viewQuerier(), cfg).
		ResearchWithParallelSchemas(context.Background(), "root", DefaultViewSchemas())

	if diff := cmp.Diff(sequential, concurrent); diff != "" {
		t.Fatalf("concurrent result differs (-seq +conc):\n%s", diff)
	}
}

func TestResearchWithParallelSchemasEmptySchemaSet(t *testing.T) {
	querier := viewQuerier()
	result := NewEngine(querier, testConfig(3)).ResearchWithParallelSchemas(context.Background(), "root", nil)

	if len(result.Views) != 0 {
		t.Fatalf("expected no views, got %v", result.Views)
	}
	if querier.extractionCalls() != 0 {
		t.Fatalf("expected no extraction calls, got %d", querier.extractionCalls())
	}
	if result.TotalNodes != CountNodes(result.Tree) {
		t.Fatalf("total nodes mismatch")
	}
}
