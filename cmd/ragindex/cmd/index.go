package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reynard-dev/ragindex/internal/async"
	"github.com/reynard-dev/ragindex/internal/chunk"
	"github.com/reynard-dev/ragindex/internal/index"
	"github.com/reynard-dev/ragindex/internal/rag"
)

// indexableExtensions are the file types picked up by directory indexing.
var indexableExtensions = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".md":   "",
	".txt":  "",
	".yaml": "",
	".yml":  "",
	".json": "",
}

// maxIndexableFileSize skips generated or binary-ish blobs.
const maxIndexableFileSize = 2 << 20

func newIndexCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for hybrid search",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			return runIndex(cmd, root, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-embed documents even when content is unchanged")
	return cmd
}

func runIndex(cmd *cobra.Command, root string, force bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	docs, err := collectDocuments(root)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		cmd.Println("nothing to index")
		return nil
	}

	svc, err := rag.NewService(cfg, dataDir(root))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	progress := func(snap index.ProgressSnapshot) {
		cmd.Printf("\rindexed %d/%d files", snap.ProcessedFiles+snap.SkippedFiles, snap.TotalFiles)
	}

	// The data-dir lock keeps two ragindex processes from indexing the
	// same tree at once.
	var result *index.Result
	runner := async.NewBackgroundRunner(async.RunnerConfig{DataDir: dataDir(root)})
	runner.Run = func(ctx context.Context) error {
		var runErr error
		result, runErr = svc.IndexDocuments(ctx, docs, progress, force)
		return runErr
	}
	runner.Start(cmd.Context())
	err = runner.Wait()
	cmd.Println()
	if err != nil {
		return err
	}

	cmd.Printf("status: %s, processed: %d, skipped: %d, errors: %d\n",
		result.Status, result.ProcessedFiles, result.SkippedFiles, len(result.Errors))
	for _, e := range result.Errors {
		cmd.Printf("  %s: %s\n", e.FileID, e.Message)
	}
	if result.Status == index.StatusFailed {
		return fmt.Errorf("indexing failed")
	}
	return nil
}

// collectDocuments walks root and loads every indexable file, skipping
// hidden directories and the index data directory itself.
func collectDocuments(root string) ([]*chunk.Document, error) {
	var docs []*chunk.Document

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || name == DataDirName) {
				return filepath.SkipDir
			}
			return nil
		}

		language, ok := indexableExtensions[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxIndexableFileSize {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		docs = append(docs, &chunk.Document{
			FileID:   path,
			Path:     path,
			Content:  string(content),
			Language: language,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}
