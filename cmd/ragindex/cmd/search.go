package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/reynard-dev/ragindex/internal/rag"
	"github.com/reynard-dev/ragindex/internal/search"
)

func newSearchCmd() *cobra.Command {
	var mode string
	var limit int
	var root string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), search.Mode(mode), limit, root)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(search.ModeHybrid), "Search mode: semantic, keyword, or hybrid")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	cmd.Flags().StringVar(&root, "path", ".", "Indexed project root")
	return cmd
}

func runSearch(cmd *cobra.Command, query string, mode search.Mode, limit int, root string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, err := rag.NewService(cfg, dataDir(root))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	results, err := svc.Search(cmd.Context(), query, mode, limit)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		cmd.Println("no results")
		return nil
	}

	for _, r := range results {
		cmd.Printf("%2d. %s (score %.4f, %s)\n", r.Rank, r.FileID, r.Score, r.Source)
		if r.Symbol != "" {
			cmd.Printf("    symbol: %s\n", r.Symbol)
		}
		cmd.Printf("    %s\n", snippet(r.Text, 160))
	}
	return nil
}

// snippet truncates text to a single display line.
func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > max {
		text = text[:max] + "..."
	}
	return text
}
