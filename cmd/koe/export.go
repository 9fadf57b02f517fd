package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/user/koe/internal/store"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Render a finished session's derived artifacts (audio.wav, transcript.md, notes.md)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(args[0])
		},
	}
	return cmd
}

func runExport(sessionID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.New(cfg.DataDir, sessionID, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := st.ExportWithTimeout(ctx); err != nil {
		return fmt.Errorf("export session %s: %w", sessionID, err)
	}
	fmt.Printf("exported session %s\n", sessionID)
	return nil
}
