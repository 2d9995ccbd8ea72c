package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lumen/backend/internal/lumen"
	"lumen/backend/internal/research"
	"lumen/backend/internal/store"
)

var (
	schemaPath  string
	schemasPath string
	topicLimit  int
)

var researchCmd = &cobra.Command{
	Use:   "research [query]",
	Short: "Research a question recursively",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		var schema research.Schema
		if schemaPath != "" {
			loaded, err := research.LoadSchema(schemaPath)
			if err != nil {
				return err
			}
			schema = loaded
		}
		if err := requireToken(); err != nil {
			return err
		}

		engine := newEngine(cmd)
		tree := engine.Research(cmd.Context(), query, schema)
		logger.Info("research completed",
			zap.Int("nodes", research.CountNodes(tree)),
			zap.Int("max_depth", research.MaxDepthReached(tree)),
			zap.Int("unique_queries", engine.VisitedCount()),
		)
		if showTree {
			if err := research.PrintTree(cmd.ErrOrStderr(), tree, false); err != nil {
				return err
			}
		}
		return emit(cmd.OutOrStdout(), tree)
	},
}

var multiCmd = &cobra.Command{
	Use:   "multi [query]",
	Short: "Research once and extract several structured views",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		schemas := research.DefaultViewSchemas()
		if schemasPath != "" {
			loaded, err := research.LoadSchemaSet(schemasPath)
			if err != nil {
				return err
			}
			schemas = loaded
		}
		if err := requireToken(); err != nil {
			return err
		}

		result := newEngine(cmd).ResearchWithParallelSchemas(cmd.Context(), query, schemas)
		if showTree {
			if err := research.PrintTree(cmd.ErrOrStderr(), result.Tree, false); err != nil {
				return err
			}
		}
		return emit(cmd.OutOrStdout(), result)
	},
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline [query]",
	Short: "Overview, topic extraction, then a deep dive per topic",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}
		result := newEngine(cmd).Pipeline(cmd.Context(), strings.Join(args, " "), topicLimit)
		if showTree {
			for _, root := range append([]*research.Node{result.Overview}, result.DeepDives...) {
				if err := research.PrintTree(cmd.ErrOrStderr(), root, false); err != nil {
					return err
				}
			}
		}
		return emit(cmd.OutOrStdout(), result)
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Print the service's public signature keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := lumen.NewClient(cfg, nil).Keys(cmd.Context())
		if err != nil {
			return err
		}
		return emit(cmd.OutOrStdout(), keys)
	},
}

func init() {
	researchCmd.Flags().StringVar(&schemaPath, "schema", "", "Extract data matching this schema (YAML or JSON) at every node")
	multiCmd.Flags().StringVar(&schemasPath, "schemas", "", "Schema set file (YAML or JSON); defaults to key_points, entities, timeline")
	pipelineCmd.Flags().IntVar(&topicLimit, "topics", 2, "Number of extracted topics to research in depth")
}

func requireToken() error {
	if strings.TrimSpace(cfg.LumenToken) == "" {
		return errors.New("no lumen token: set LUMEN_TOKEN or log in to create " + cfg.LumenCredentialsFile)
	}
	return nil
}

func emit(stdout io.Writer, value any) error {
	if outPath != "" {
		if err := store.WriteJSONFile(outPath, value); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "saved to %s\n", outPath)
		return nil
	}
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func progressPrinter(w io.Writer) func(research.Progress) {
	return func(p research.Progress) {
		indent := strings.Repeat("  ", p.Depth)
		switch p.Kind {
		case research.ProgressQuerying:
			fmt.Fprintf(w, "%s? %s\n", indent, p.Query)
		case research.ProgressSkipped:
			fmt.Fprintf(w, "%s- %s (%s)\n", indent, p.Query, p.Status)
		case research.ProgressFailed:
			fmt.Fprintf(w, "%s! %s: %s\n", indent, p.Query, p.Detail)
		case research.ProgressCompleted:
			if p.Gaps > 0 {
				fmt.Fprintf(w, "%s  %d follow-ups reported\n", indent, p.Gaps)
			}
		case research.ProgressViewDone:
			fmt.Fprintf(w, "view %s: %s entries\n", p.Schema, p.Detail)
		case research.ProgressTopicsDone:
			fmt.Fprintf(w, "topics extracted: %s\n", p.Detail)
		}
	}
}
