package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/koe/internal/catalog"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions recorded in the session catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions()
		},
	}
	return cmd
}

func runSessions() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cat, err := catalog.Open(cfg.CatalogDB)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	sessions, err := cat.ListSessions()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("no sessions recorded")
		return nil
	}

	for _, sess := range sessions {
		ended := "running"
		if sess.EndedAt != nil {
			ended = sess.EndedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%s\t%s\t%s -> %s\t%s/%s\n",
			sess.ID, sess.Status, sess.StartedAt.Format("2006-01-02 15:04:05"), ended,
			sess.Transcriber, sess.Summarizer)
	}
	return nil
}
