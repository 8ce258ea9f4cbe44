package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reynard-dev/ragindex/internal/rag"
)

func newWatchCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Index a directory and keep it fresh via filesystem watching",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			return runWatch(cmd, root, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-embed documents on the initial pass")
	return cmd
}

func runWatch(cmd *cobra.Command, root string, force bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, err := rag.NewService(cfg, dataDir(root))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	docs, err := collectDocuments(root)
	if err != nil {
		return err
	}
	if len(docs) > 0 {
		result, err := svc.IndexDocuments(cmd.Context(), docs, nil, force)
		if err != nil {
			return err
		}
		cmd.Printf("initial index: %s, processed %d files\n", result.Status, result.ProcessedFiles)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.StartMonitor(ctx, root); err != nil {
		return err
	}
	cmd.Println("watching for changes, press Ctrl-C to stop")

	<-ctx.Done()
	cmd.Println("\nstopping")
	return nil
}
