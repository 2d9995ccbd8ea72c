package research

import (
	"context"
	"time"

	"lumen/backend/internal/lumen"
)

type Status string

const (
	StatusCompleted         Status = "completed"
	StatusDepthLimitReached Status = "depth_limit_reached"
	StatusAlreadyExplored   Status = "already_explored"
	StatusFailed            Status = "failed"
)

// Node is one question in a research tree. Response, Gaps, ExtractedData and
// Branches are only populated for completed nodes.
type Node struct {
	Query         string       `json:"query"`
	Depth         int          `json:"depth"`
	Status        Status       `json:"status"`
	Response      string       `json:"response,omitempty"`
	Gaps          []string     `json:"gaps,omitempty"`
	ExtractedData any          `json:"extractedData,omitempty"`
	Branches      []*Node      `json:"branches,omitempty"`
	Error         string       `json:"error,omitempty"`
	Usage         *lumen.Usage `json:"usage,omitempty"`
}

func (n *Node) HasResponse() bool {
	return n != nil && n.Status == StatusCompleted
}

type Schema map[string]any

type ViewEntry struct {
	Depth int    `json:"depth"`
	Query string `json:"query"`
	Data  any    `json:"data"`
}

type MultiSchemaResult struct {
	Query           string                 `json:"query"`
	Tree            *Node                  `json:"researchTree"`
	Views           map[string][]ViewEntry `json:"structuredViews"`
	TotalNodes      int                    `json:"totalNodes"`
	MaxDepthReached int                    `json:"maxDepthReached"`
}

type PipelineResult struct {
	Query     string   `json:"query"`
	Overview  *Node    `json:"overview"`
	Topics    []string `json:"extractedTopics"`
	DeepDives []*Node  `json:"deepDives"`
}

type Querier interface {
	Query(ctx context.Context, req lumen.QueryRequest) (lumen.QueryResponse, error)
}

type Config struct {
	MaxDepth             int
	InterRequestDelay    time.Duration
	MaxBranchesPerNode   int
	Model                string
	Temperature          float64
	MaxTokens            int
	ExtractionInputRunes int
	// ForwardOutputSchema also hands the schema to the service as
	// output_schema on extraction calls.
	ForwardOutputSchema bool
	SchemaConcurrency   int
}

type ProgressKind string

const (
	ProgressQuerying   ProgressKind = "querying"
	ProgressCompleted  ProgressKind = "completed"
	ProgressSkipped    ProgressKind = "skipped"
	ProgressFailed     ProgressKind = "failed"
	ProgressExtracted  ProgressKind = "extracted"
	ProgressBranching  ProgressKind = "branching"
	ProgressViewDone   ProgressKind = "view_done"
	ProgressTopicsDone ProgressKind = "topics_done"
)

type Progress struct {
	Kind   ProgressKind `json:"kind"`
	Query  string       `json:"query,omitempty"`
	Depth  int          `json:"depth"`
	Status Status       `json:"status,omitempty"`
	Gaps   int          `json:"gaps,omitempty"`
	Branch int          `json:"branch,omitempty"`
	Schema string       `json:"schema,omitempty"`
	Detail string       `json:"detail,omitempty"`
}
