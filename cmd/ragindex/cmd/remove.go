package cmd

import (
	"github.com/spf13/cobra"

	"github.com/reynard-dev/ragindex/internal/rag"
)

func newRemoveCmd() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "remove <file-id>",
		Short: "Remove a document from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd, args[0], root)
		},
	}

	cmd.Flags().StringVar(&root, "path", ".", "Indexed project root")
	return cmd
}

func runRemove(cmd *cobra.Command, fileID, root string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, err := rag.NewService(cfg, dataDir(root))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	if err := svc.RemoveDocument(cmd.Context(), fileID); err != nil {
		return err
	}
	cmd.Printf("removed %s\n", fileID)
	return nil
}
