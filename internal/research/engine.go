package research

import (
	"context"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"go.uber.org/zap"

	"lumen/backend/internal/lumen"
)

const (
	defaultMaxDepth             = 3
	defaultInterRequestDelay    = 500 * time.Millisecond
	defaultMaxBranchesPerNode   = 3
	defaultModel                = "gpt-5-nano"
	defaultTemperature          = 1.0
	defaultExtractionInputRunes = 500
	defaultSchemaConcurrency    = 1
)

var errQuerierUnavailable = errors.New("query service is not configured")

func DefaultConfig() Config {
	return Config{
		MaxDepth:             defaultMaxDepth,
		InterRequestDelay:    defaultInterRequestDelay,
		MaxBranchesPerNode:   defaultMaxBranchesPerNode,
		Model:                defaultModel,
		Temperature:          defaultTemperature,
		ExtractionInputRunes: defaultExtractionInputRunes,
		SchemaConcurrency:    defaultSchemaConcurrency,
	}
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithProgress registers a callback for per-node events. It runs on the
// calling goroutine, except during a schema fan-out with SchemaConcurrency > 1.
func WithProgress(fn func(Progress)) Option {
	return func(e *Engine) { e.onProgress = fn }
}

type Engine struct {
	querier    Querier
	cfg        Config
	logger     *zap.Logger
	onProgress func(Progress)
	visited    *visitedSet
}

func NewEngine(querier Querier, cfg Config, opts ...Option) *Engine {
	if cfg.MaxDepth < 1 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.InterRequestDelay < 0 {
		cfg.InterRequestDelay = 0
	}
	if cfg.MaxBranchesPerNode < 1 {
		cfg.MaxBranchesPerNode = defaultMaxBranchesPerNode
	}
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens < 0 {
		cfg.MaxTokens = 0
	}
	if cfg.ExtractionInputRunes < 1 {
		cfg.ExtractionInputRunes = defaultExtractionInputRunes
	}
	if cfg.SchemaConcurrency < 1 {
		cfg.SchemaConcurrency = defaultSchemaConcurrency
	}

	e := &Engine{
		querier: querier,
		cfg:     cfg,
		logger:  zap.NewNop(),
		visited: newVisitedSet(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) Reset() {
	e.visited.Reset()
}

func (e *Engine) VisitedCount() int {
	return e.visited.Len()
}

// Research builds the tree rooted at query. It never fails as a whole:
// remote errors are recorded on the node they happened at.
func (e *Engine) Research(ctx context.Context, query string, schema Schema) *Node {
	if ctx == nil {
		ctx = context.Background()
	}
	return e.research(ctx, query, schema, 0)
}

func (e *Engine) research(ctx context.Context, query string, schema Schema, depth int) *Node {
	key := normalizeQuery(query)

	// The depth ceiling is checked first, so a question cut off here is not
	// remembered and can still be asked at a shallower depth later.
	if depth >= e.cfg.MaxDepth {
		e.emit(Progress{Kind: ProgressSkipped, Query: query, Depth: depth, Status: StatusDepthLimitReached})
		return &Node{Query: query, Depth: depth, Status: StatusDepthLimitReached}
	}
	if !e.visited.Mark(key) {
		e.emit(Progress{Kind: ProgressSkipped, Query: query, Depth: depth, Status: StatusAlreadyExplored})
		return &Node{Query: query, Depth: depth, Status: StatusAlreadyExplored}
	}

	e.emit(Progress{Kind: ProgressQuerying, Query: query, Depth: depth})

	if depth > 0 {
		if err := lumen.Sleep(ctx, e.cfg.InterRequestDelay); err != nil {
			return e.failed(query, depth, errors.Wrap(err, "wait before query"))
		}
	}

	resp, err := e.query(ctx, e.newRequest(query))
	if err != nil {
		return e.failed(query, depth, err)
	}

	node := &Node{
		Query:    query,
		Depth:    depth,
		Status:   StatusCompleted,
		Response: resp.Response,
		Usage:    resp.Usage,
	}
	if len(resp.MissingContext) > 0 {
		node.Gaps = append([]string(nil), resp.MissingContext...)
	}

	if schema != nil {
		if data, ok := e.Extract(ctx, node.Response, schema); ok {
			node.ExtractedData = data
			e.emit(Progress{Kind: ProgressExtracted, Query: query, Depth: depth})
		}
	}

	if len(node.Gaps) > 0 && depth < e.cfg.MaxDepth {
		explore := node.Gaps
		if len(explore) > e.cfg.MaxBranchesPerNode {
			explore = explore[:e.cfg.MaxBranchesPerNode]
		}
		branches := make([]*Node, 0, len(explore))
		for i, gap := range explore {
			e.emit(Progress{Kind: ProgressBranching, Query: gap, Depth: depth, Branch: i + 1, Gaps: len(explore)})
			branches = append(branches, e.research(ctx, gap, schema, depth+1))
		}
		node.Branches = branches
	}

	e.logger.Debug("research node completed",
		zap.String("query", trimToRunes(query, 80)),
		zap.Int("depth", depth),
		zap.Int("gaps", len(node.Gaps)),
		zap.Int("branches", len(node.Branches)),
		zap.Int("response_chars", len(node.Response)),
	)
	e.emit(Progress{Kind: ProgressCompleted, Query: query, Depth: depth, Status: StatusCompleted, Gaps: len(node.Gaps)})
	return node
}

func (e *Engine) failed(query string, depth int, err error) *Node {
	e.logger.Warn("research query failed",
		zap.String("query", trimToRunes(query, 80)),
		zap.Int("depth", depth),
		zap.Error(err),
	)
	e.emit(Progress{Kind: ProgressFailed, Query: query, Depth: depth, Status: StatusFailed, Detail: err.Error()})
	return &Node{Query: query, Depth: depth, Status: StatusFailed, Error: err.Error()}
}

func (e *Engine) query(ctx context.Context, req lumen.QueryRequest) (lumen.QueryResponse, error) {
	if e.querier == nil {
		return lumen.QueryResponse{}, errQuerierUnavailable
	}
	resp, err := e.querier.Query(ctx, req)
	if err != nil {
		return lumen.QueryResponse{}, errors.Wrap(err, "query service")
	}
	return resp, nil
}

func (e *Engine) newRequest(prompt string) lumen.QueryRequest {
	return lumen.QueryRequest{
		Query:       prompt,
		Model:       e.cfg.Model,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	}
}

func (e *Engine) emit(progress Progress) {
	if e.onProgress == nil {
		return
	}
	e.onProgress(progress)
}
