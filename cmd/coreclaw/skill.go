package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/config"
	otelPkg "github.com/coreclaw/coreclaw/internal/otel"
	"github.com/coreclaw/coreclaw/internal/skills"
	"github.com/coreclaw/coreclaw/internal/store"
)

func runSkillCommand(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: coreclaw skill <apply|list|rollback> ...")
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

	eb := bus.New(slog.Default())
	engine := skills.New(cfg.HomeDir, st, eb, slog.Default())

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.OTel.Enabled,
		ServiceName: cfg.OTel.ServiceName,
		SampleRate:  cfg.OTel.SampleRate,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init otel: %v\n", err)
		return 1
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init otel metrics: %v\n", err)
		return 1
	}

	sub := strings.ToLower(strings.TrimSpace(args[0]))
	switch sub {
	case "apply":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: coreclaw skill apply <manifest-path>")
			return 2
		}
		manifest, err := skills.LoadManifest(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "load manifest: %v\n", err)
			return 1
		}

		_, span := otelPkg.StartSpan(ctx, otelProvider.Tracer, "skills.apply", otelPkg.AttrSkillName.String(manifest.Name))
		if err := engine.Apply(manifest); err != nil {
			metrics.SkillApplyErrors.Add(ctx, 1)
			span.RecordError(err)
			span.End()
			fmt.Fprintf(os.Stderr, "apply failed: %v\n", err)
			return 1
		}
		span.End()
		fmt.Fprintln(os.Stdout, "applied")
		return 0

	case "list":
		applied, err := st.ListAppliedSkills(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list applied skills: %v\n", err)
			return 1
		}
		if len(applied) == 0 {
			fmt.Fprintln(os.Stdout, "no skills applied")
			return 0
		}
		for _, s := range applied {
			fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", s.Name, s.Version, s.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		return 0

	case "rollback":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: coreclaw skill rollback <name>")
			return 2
		}
		if err := engine.Rollback(args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "rollback failed: %v\n", err)
			return 1
		}
		fmt.Fprintln(os.Stdout, "rolled back")
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown skill subcommand: %s\n", sub)
		return 2
	}
}
