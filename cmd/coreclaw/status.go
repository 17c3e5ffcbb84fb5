package main

import (
	"context"
	"fmt"
	"os"

	"github.com/coreclaw/coreclaw/internal/config"
	"github.com/coreclaw/coreclaw/internal/store"
)

func runStatusCommand(ctx context.Context, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: coreclaw status")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	st, err := store.Open(store.DefaultPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		return 1
	}
	defer st.Close()

	counts, err := st.CountTasksByStatus(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "count tasks: %v\n", err)
		return 1
	}
	drafts, err := st.ListPendingDrafts(ctx, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list pending drafts: %v\n", err)
		return 1
	}

	fmt.Printf("home: %s\n", cfg.HomeDir)
	fmt.Printf("policy mode: %s\n", cfg.Policy.Mode)
	fmt.Println("tasks:")
	for _, status := range []store.TaskStatus{
		store.TaskStatusQueued, store.TaskStatusRunning, store.TaskStatusSucceeded,
		store.TaskStatusFailed, store.TaskStatusRetryWait, store.TaskStatusCanceled,
	} {
		fmt.Printf("  %-12s %d\n", status, counts[status])
	}
	fmt.Printf("pending drafts: %d\n", len(drafts))
	return 0
}
