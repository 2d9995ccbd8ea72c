package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"lumen/backend/internal/lumen"
)

const extractionPromptLead = "Extract structured data"

type scriptedQuerier struct {
	mu       sync.Mutex
	gaps     map[string][]string
	failures map[string]error
	gapsFor  func(query string) []string
	extract  func(prompt string) (string, error)
	calls    []lumen.QueryRequest
}

func (q *scriptedQuerier) Query(ctx context.Context, req lumen.QueryRequest) (lumen.QueryResponse, error) {
	q.mu.Lock()
	q.calls = append(q.calls, req)
	q.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return lumen.QueryResponse{}, err
	}
	if strings.HasPrefix(req.Query, extractionPromptLead) {
		if q.extract == nil {
			return lumen.QueryResponse{}, errors.New("no extraction scripted")
		}
		text, err := q.extract(req.Query)
		if err != nil {
			return lumen.QueryResponse{}, err
		}
		return lumen.QueryResponse{Response: text}, nil
	}
	if err, ok := q.failures[req.Query]; ok {
		return lumen.QueryResponse{}, err
	}
	resp := lumen.QueryResponse{
		Response: "answer: " + req.Query,
		Usage:    &lumen.Usage{TotalTokens: 10},
	}
	if gaps, ok := q.gaps[req.Query]; ok {
		resp.MissingContext = gaps
	} else if q.gapsFor != nil {
		resp.MissingContext = q.gapsFor(req.Query)
	}
	return resp, nil
}

// researchCalls returns the non-extraction prompts in call order.
func (q *scriptedQuerier) researchCalls() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, call := range q.calls {
		if !strings.HasPrefix(call.Query, extractionPromptLead) {
			out = append(out, call.Query)
		}
	}
	return out
}

func (q *scriptedQuerier) extractionCalls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, call := range q.calls {
		if strings.HasPrefix(call.Query, extractionPromptLead) {
			count++
		}
	}
	return count
}

func testConfig(maxDepth int) Config {
	cfg := DefaultConfig()
	cfg.MaxDepth = maxDepth
	cfg.InterRequestDelay = 0
	return cfg
}

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxDepth != 3 || cfg.MaxBranchesPerNode != 3 {
		t.Fatalf("unexpected depth/branch defaults: %+v", cfg)
	}
	if cfg.InterRequestDelay != 500*time.Millisecond {
		t.Fatalf("expected 500ms delay, got %s", cfg.InterRequestDelay)
	}
	if cfg.Model != "gpt-5-nano" || cfg.Temperature != 1.0 {
		t.Fatalf("unexpected model policy: %q %v", cfg.Model, cfg.Temperature)
	}
}

func TestNewEngineRepairsInvalidConfig(t *testing.T) {
	engine := NewEngine(&scriptedQuerier{}, Config{
		MaxDepth:           -1,
		InterRequestDelay:  -time.Second,
		MaxBranchesPerNode: 0,
		Model:              "  ",
		Temperature:        -1,
		SchemaConcurrency:  0,
	})
	cfg := engine.Config()
	if cfg.MaxDepth != 3 || cfg.MaxBranchesPerNode != 3 || cfg.SchemaConcurrency != 1 {
		t.Fatalf("expected repaired limits, got %+v", cfg)
	}
	if cfg.InterRequestDelay != 0 {
		t.Fatalf("expected negative delay clamped to zero, got %s", cfg.InterRequestDelay)
	}
	if cfg.Model != "gpt-5-nano" || cfg.Temperature != 1.0 || cfg.ExtractionInputRunes != 500 {
		t.Fatalf("expected default model policy, got %+v", cfg)
	}
}

func TestResearchNeverQueriesAtOrBeyondMaxDepth(t *testing.T) {
	querier := &scriptedQuerier{
		gapsFor: func(query string) []string {
			return []string{query + " / a", query + " / b"}
		},
	}
	engine := NewEngine(querier, testConfig(2))

	root := engine.Research(context.Background(), "root", nil)

	if got := CountNodes(root); got != 7 {
		t.Fatalf("expected 7 nodes, got %d", got)
	}
	if got := MaxDepthReached(root); got != 2 {
		t.Fatalf("expected max depth 2, got %d", got)
	}
	if calls := len(querier.researchCalls()); calls != 3 {
		t.Fatalf("expected 3 remote calls, got %d", calls)
	}
	Walk(root, func(n *Node) {
		if n.Depth >= 2 && n.Status != StatusDepthLimitReached {
			t.Fatalf("node %q at depth %d has status %s", n.Query, n.Depth, n.Status)
		}
		if n.Depth < 2 && n.Status != StatusCompleted {
			t.Fatalf("node %q at depth %d should be completed, got %s", n.Query, n.Depth, n.Status)
		}
		if n.Status == StatusDepthLimitReached && (n.Response != "" || len(n.Branches) > 0) {
			t.Fatalf("depth-limited node %q should carry no response or branches", n.Query)
		}
	})
}

func TestResearchExploresOnlyFirstBranchesInOrder(t *testing.T) {
	querier := &scriptedQuerier{
		gaps: map[string][]string{"root": {"g1", "g2", "g3", "g4", "g5"}},
	}
	engine := NewEngine(querier, testConfig(3))

	root := engine.Research(context.Background(), "root", nil)

	if len(root.Gaps) != 5 {
		t.Fatalf("expected all 5 gaps recorded, got %d", len(root.Gaps))
	}
	if len(root.Branches) != 3 {
		t.Fatalf("expected 3 branches, got %d", len(root.Branches))
	}
	for i, want := range []string{"g1", "g2", "g3"} {
		if root.Branches[i].Query != want || root.Branches[i].Depth != 1 {
			t.Fatalf("branch %d: expected %q at depth 1, got %q at %d", i, want, root.Branches[i].Query, root.Branches[i].Depth)
		}
	}
}

func TestResearchSkipsNormalizedDuplicates(t *testing.T) {
	querier := &scriptedQuerier{
		gaps: map[string][]string{
			"What is Go?":  {"  what  is go? ", "Who made Go?"},
			"Who made Go?": {"WHO MADE GO?"},
		},
	}
	engine := NewEngine(querier, testConfig(3))

	root := engine.Research(context.Background(), "What is Go?", nil)

	if root.Branches[0].Status != StatusAlreadyExplored {
		t.Fatalf("expected duplicate of root to be skipped, got %s", root.Branches[0].Status)
	}
	second := root.Branches[1]
	if second.Status != StatusCompleted || len(second.Branches) != 1 {
		t.Fatalf("expected second branch completed with one child, got %+v", second)
	}
	if second.Branches[0].Status != StatusAlreadyExplored {
		t.Fatalf("expected case variant to be skipped, got %s", second.Branches[0].Status)
	}

	calls := querier.researchCalls()
	if len(calls) != 2 {
		t.Fatalf("expected each distinct question asked once, got %v", calls)
	}
	if engine.VisitedCount() != 2 {
		t.Fatalf("expected 2 visited entries, got %d", engine.VisitedCount())
	}
}

func TestResearchChecksDepthBeforeVisited(t *testing.T) {
	querier := &scriptedQuerier{
		gaps: map[string][]string{
			"root": {"x", "y"},
			"x":    {"y"},
		},
	}
	engine := NewEngine(querier, testConfig(2))

	root := engine.Research(context.Background(), "root", nil)

	deep := root.Branches[0].Branches[0]
	if deep.Query != "y" || deep.Status != StatusDepthLimitReached {
		t.Fatalf("expected y cut off at depth 2, got %+v", deep)
	}
	shallow := root.Branches[1]
	if shallow.Query != "y" || shallow.Status != StatusCompleted {
		t.Fatalf("expected y answered at depth 1 after the cut-off, got %+v", shallow)
	}
	if got := querier.researchCalls(); len(got) != 3 {
		t.Fatalf("expected root, x and y asked once each, got %v", got)
	}
}

func TestResearchIsolatesFailedBranches(t *testing.T) {
	querier := &scriptedQuerier{
		gaps: map[string][]string{
			"root": {"broken", "fine"},
			"fine": {"leaf"},
		},
		failures: map[string]error{
			"broken": lumen.APIError{StatusCode: 429, Body: "slow down"},
		},
	}
	engine := NewEngine(querier, testConfig(3))

	root := engine.Research(context.Background(), "root", nil)

	broken := root.Branches[0]
	if broken.Status != StatusFailed || broken.HasResponse() {
		t.Fatalf("expected failed node without response, got %+v", broken)
	}
	if !strings.Contains(broken.Error, "429") || len(broken.Branches) != 0 {
		t.Fatalf("expected error text and no branches, got %+v", broken)
	}
	fine := root.Branches[1]
	if fine.Status != StatusCompleted || len(fine.Branches) != 1 || fine.Branches[0].Status != StatusCompleted {
		t.Fatalf("expected sibling subtree to complete, got %+v", fine)
	}

	counts := CountByStatus(root)
	if counts[StatusCompleted] != 3 || counts[StatusFailed] != 1 {
		t.Fatalf("unexpected status counts: %v", counts)
	}
}

func TestResearchRootFailureYieldsSingleNode(t *testing.T) {
	querier := &scriptedQuerier{failures: map[string]error{"root": lumen.ErrMalformedResponse}}
	engine := NewEngine(querier, testConfig(3))

	root := engine.Research(context.Background(), "root", nil)

	if root.Status != StatusFailed || CountNodes(root) != 1 {
		t.Fatalf("expected a single failed node, got %+v", root)
	}
	if !strings.Contains(root.Error, "data.response") {
		t.Fatalf("expected malformed response error, got %q", root.Error)
	}
}

func TestResearchWithoutQuerierFails(t *testing.T) {
	root := NewEngine(nil, testConfig(3)).Research(context.Background(), "root", nil)
	if root.Status != StatusFailed || root.Error == "" {
		t.Fatalf("expected failed node, got %+v", root)
	}
}

func TestResearchDoesNotPauseBeforeRoot(t *testing.T) {
	cfg := testConfig(1)
	cfg.InterRequestDelay = time.Hour
	engine := NewEngine(&scriptedQuerier{}, cfg)

	done := make(chan *Node, 1)
	go func() { done <- engine.Research(context.Background(), "root", nil) }()

	select {
	case root := <-done:
		if root.Status != StatusCompleted {
			t.Fatalf("expected completed root, got %s", root.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("root query should not wait for the inter-request delay")
	}
}

func TestResearchCancelledPauseFailsBranch(t *testing.T) {
	cfg := testConfig(3)
	cfg.InterRequestDelay = time.Hour
	querier := &scriptedQuerier{gaps: map[string][]string{"root": {"child"}}}
	engine := NewEngine(querier, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	root := engine.Research(ctx, "root", nil)

	if root.Status != StatusCompleted || len(root.Branches) != 1 {
		t.Fatalf("expected completed root with one branch, got %+v", root)
	}
	child := root.Branches[0]
	if child.Status != StatusFailed || !strings.Contains(child.Error, "deadline") {
		t.Fatalf("expected child to fail on deadline, got %+v", child)
	}
	if calls := querier.researchCalls(); len(calls) != 1 {
		t.Fatalf("expected only the root to reach the service, got %v", calls)
	}
}

func TestResearchSendsModelPolicy(t *testing.T) {
	cfg := testConfig(1)
	cfg.Model = "gpt-test"
	cfg.Temperature = 0.3
	cfg.MaxTokens = 256
	querier := &scriptedQuerier{}

	NewEngine(querier, cfg).Research(context.Background(), "root", nil)

	if len(querier.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(querier.calls))
	}
	call := querier.calls[0]
	if call.Query != "root" || call.Model != "gpt-test" || call.Temperature != 0.3 || call.MaxTokens != 256 {
		t.Fatalf("unexpected request: %+v", call)
	}
	if call.OutputSchema != nil {
		t.Fatalf("research calls should not carry an output schema")
	}
}

func TestResearchAttachesExtractedData(t *testing.T) {
	querier := &scriptedQuerier{
		gaps: map[string][]string{"root": {"child"}},
		extract: func(prompt string) (string, error) {
			if strings.Contains(prompt, "answer: child") {
				return "not json at all", nil
			}
			return "```json\n{\"main_points\": [\"point\"]}\n```", nil
		},
	}
	schema := Schema{
		"type":       "object",
		"properties": map[string]any{"main_points": map[string]any{"type": "array"}},
		"required":   []any{"main_points"},
	}
	engine := NewEngine(querier, testConfig(3))

	root := engine.Research(context.Background(), "root", schema)

	data, ok := root.ExtractedData.(map[string]any)
	if !ok {
		t.Fatalf("expected extracted object on root, got %#v", root.ExtractedData)
	}
	if points, _ := data["main_points"].([]any); len(points) != 1 || points[0] != "point" {
		t.Fatalf("unexpected extracted data: %#v", data)
	}
	child := root.Branches[0]
	if child.Status != StatusCompleted || child.ExtractedData != nil {
		t.Fatalf("expected child completed without data, got %+v", child)
	}
	if engine.VisitedCount() != 2 {
		t.Fatalf("extraction must not touch the visited set, got %d entries", engine.VisitedCount())
	}
	if querier.extractionCalls() != 2 {
		t.Fatalf("expected one extraction per answered node, got %d", querier.extractionCalls())
	}
}

func TestResetAllowsRepeatTraversal(t *testing.T) {
	querier := &scriptedQuerier{}
	engine := NewEngine(querier, testConfig(2))

	first := engine.Research(context.Background(), "root", nil)
	again := engine.Research(context.Background(), "root", nil)
	if first.Status != StatusCompleted || again.Status != StatusAlreadyExplored {
		t.Fatalf("expected second traversal to be skipped, got %s then %s", first.Status, again.Status)
	}
	if engine.VisitedCount() != 1 || engine.visited.Mark("root") {
		t.Fatalf("expected only root in visited set, got %d entries", engine.VisitedCount())
	}

	engine.Reset()
	if engine.VisitedCount() != 0 {
		t.Fatalf("expected empty visited set, got %d", engine.VisitedCount())
	}
	fresh := engine.Research(context.Background(), "root", nil)
	if fresh.Status != StatusCompleted {
		t.Fatalf("expected fresh traversal after reset, got %s", fresh.Status)
	}
}

func TestResearchReportsProgress(t *testing.T) {
	querier := &scriptedQuerier{gaps: map[string][]string{"root": {"root", "child"}}}
	var kinds []ProgressKind
	engine := NewEngine(querier, testConfig(2), WithProgress(func(p Progress) {
		kinds = append(kinds, p.Kind)
	}))

	engine.Research(context.Background(), "root", nil)

	want := []ProgressKind{
		ProgressQuerying,
		ProgressBranching, ProgressSkipped,
		ProgressBranching, ProgressQuerying, ProgressCompleted,
		ProgressCompleted,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s (all: %v)", i, want[i], kinds[i], kinds)
		}
	}
}

func TestResearchEndToEndScenario(t *testing.T) {
	querier := &scriptedQuerier{
		gaps: map[string][]string{
			"Q0": {"G1", "G2"},
			"G1": {},
			"G2": {"G1"},
		},
	}
	engine := NewEngine(querier, testConfig(3))

	root := engine.Research(context.Background(), "Q0", nil)

	if root.Depth != 0 || root.Status != StatusCompleted || root.Response != "answer: Q0" || len(root.Branches) != 2 {
		t.Fatalf("unexpected root: %+v", root)
	}
	g1 := root.Branches[0]
	if g1.Query != "G1" || g1.Depth != 1 || g1.Status != StatusCompleted || len(g1.Branches) != 0 {
		t.Fatalf("unexpected first branch: %+v", g1)
	}
	g2 := root.Branches[1]
	if g2.Query != "G2" || g2.Depth != 1 || g2.Status != StatusCompleted || len(g2.Branches) != 1 {
		t.Fatalf("unexpected second branch: %+v", g2)
	}
	dup := g2.Branches[0]
	if dup.Query != "G1" || dup.Depth != 2 || dup.Status != StatusAlreadyExplored {
		t.Fatalf("unexpected nested branch: %+v", dup)
	}
	if CountNodes(root) != 4 || MaxDepthReached(root) != 2 {
		t.Fatalf("expected 4 nodes at max depth 2, got %d at %d", CountNodes(root), MaxDepthReached(root))
	}
}
