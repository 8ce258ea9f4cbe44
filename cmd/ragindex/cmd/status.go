package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/reynard-dev/ragindex/internal/rag"
)

func newStatusCmd() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, root)
		},
	}

	cmd.Flags().StringVar(&root, "path", ".", "Indexed project root")
	return cmd
}

func runStatus(cmd *cobra.Command, root string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svc, err := rag.NewService(cfg, dataDir(root))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	health := svc.HealthCheck(cmd.Context())
	metrics, err := svc.Metrics(cmd.Context())
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(map[string]any{
		"health":  health,
		"metrics": metrics,
	}, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}
