package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/coreclaw/coreclaw/internal/agent"
	"github.com/coreclaw/coreclaw/internal/audit"
	"github.com/coreclaw/coreclaw/internal/bus"
	"github.com/coreclaw/coreclaw/internal/conductor"
	"github.com/coreclaw/coreclaw/internal/config"
	"github.com/coreclaw/coreclaw/internal/cron"
	"github.com/coreclaw/coreclaw/internal/draft"
	"github.com/coreclaw/coreclaw/internal/learning"
	otelPkg "github.com/coreclaw/coreclaw/internal/otel"
	"github.com/coreclaw/coreclaw/internal/policy"
	"github.com/coreclaw/coreclaw/internal/queue"
	"github.com/coreclaw/coreclaw/internal/safety"
	"github.com/coreclaw/coreclaw/internal/sandbox"
	"github.com/coreclaw/coreclaw/internal/skills"
	"github.com/coreclaw/coreclaw/internal/store"
	"github.com/coreclaw/coreclaw/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE:
  %s -daemon                  Start the daemon (conductors, queue, cron)

SUBCOMMANDS:
  %s status                   Show task queue and draft summary
  %s doctor [-json]           Run diagnostic checks
  %s skill <apply|list|rollback>   Manage skill manifests

ENVIRONMENT VARIABLES:
  CORECLAW_HOME               Data directory (default: ~/.coreclaw)
  CORECLAW_STORE_PATH         Override the SQLite store path
  CORECLAW_LOG_LEVEL          Override log_level from config.yaml
  CORECLAW_POLICY_MODE        Override policy.mode from config.yaml

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func main() {
	daemon := flag.Bool("daemon", false, "run the coreclaw daemon")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		case "skill":
			os.Exit(runSkillCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	if !*daemon {
		printUsage()
		os.Exit(2)
	}

	if err := runDaemon(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "daemon exited: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()

	logger.Info("coreclaw starting", slog.String("version", Version), slog.String("home", cfg.HomeDir), slog.String("policy_mode", string(cfg.Policy.Mode)))

	st, err := store.Open(store.DefaultPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := audit.Init(cfg.HomeDir); err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}
	audit.SetDB(st.DB())

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.OTel.Enabled,
		ServiceName: cfg.OTel.ServiceName,
		SampleRate:  cfg.OTel.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		return fmt.Errorf("init otel metrics: %w", err)
	}

	eb := bus.New(logger)
	live := policy.NewLive(cfg.Policy)

	registry := agent.NewRegistry()
	for _, wt := range cfg.WorkerTypes {
		err := registry.Register(agent.WorkerType{
			Name: wt.Name,
			Profile: sandbox.Profile{
				Image:       wt.Image,
				MemoryMB:    wt.MemoryMB,
				NetworkMode: wt.NetworkMode,
				Timeout:     time.Duration(wt.TimeoutSeconds) * time.Second,
				Env:         wt.Env,
			},
		})
		if err != nil {
			logger.Warn("worker type registration failed", slog.String("name", wt.Name), slog.String("error", err.Error()))
		}
	}
	if len(registry.Names()) == 0 {
		for _, wt := range agent.DefaultWorkerTypes() {
			if err := registry.Register(wt); err != nil {
				logger.Warn("default worker type registration failed", slog.String("name", wt.Name), slog.String("error", err.Error()))
			}
		}
	}

	invoker, err := sandbox.New(filepath.Join(cfg.HomeDir, "mailboxes"), []byte(sandbox.DefaultAgentOutputSchema))
	if err != nil {
		return fmt.Errorf("init sandbox invoker: %w", err)
	}
	defer invoker.Close()

	handler := func(ctx context.Context, task *store.Task) (string, error) {
		profile, ok := registry.Profile(task.Type)
		if !ok {
			return "", fmt.Errorf("no worker type registered for task type %q", task.Type)
		}

		ctx, span := otelPkg.StartClientSpan(ctx, otelProvider.Tracer, "sandbox.invoke",
			otelPkg.AttrTaskID.String(task.ID), otelPkg.AttrTaskType.String(task.Type))
		start := time.Now()
		frames, err := invoker.Invoke(ctx, task.ID, task.Payload, profile)
		metrics.TaskDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			metrics.InvocationErrors.Add(ctx, 1)
			span.RecordError(err)
			span.End()
			return "", err
		}
		span.End()
		if len(frames) == 0 {
			metrics.InvocationErrors.Add(ctx, 1)
			return "", fmt.Errorf("worker produced no output frames")
		}
		return frames[len(frames)-1].Raw, nil
	}

	q := queue.New(st, eb, logger, queue.Config{
		Concurrency:   cfg.Queue.Concurrency,
		PollInterval:  cfg.PollInterval(),
		RetryBaseWait: cfg.RetryBaseWait(),
	}, handler)

	detector := safety.NewDetector()
	draftEngine := draft.New(st, eb, live, detector, logger)
	analyser := learning.New(st, eb)

	triageConfigs, err := config.LoadTriageRules(cfg)
	if err != nil {
		logger.Warn("load triage rules failed", slog.String("error", err.Error()))
	}
	triageRules := conductor.BuildTriageRules(triageConfigs)
	knowledgeSources := conductor.BuildKnowledgeSources(cfg.KnowledgeSources)

	inbox := conductor.NewInbox(st, eb, logger, triageRules)
	workflow := conductor.NewWorkflow(st, eb, logger, draftEngine, live)
	contextRole := conductor.NewContext(st, eb, logger, knowledgeSources)
	quality := conductor.NewQuality(st, eb, logger, detector)
	learningRole := conductor.NewLearning(eb, logger, analyser)
	chief := conductor.NewChief(eb, logger)

	for _, role := range []conductor.Role{inbox, workflow, contextRole, quality, learningRole, chief} {
		role.Start()
		defer role.Stop()
	}

	for _, ch := range cfg.Channels {
		if ch.Enabled {
			logger.Info("channel configured", slog.String("name", ch.Name))
		}
	}

	scheduler := cron.NewScheduler(logger, []cron.Job{
		cron.ChiefBriefingJob(time.Duration(cfg.HeartbeatIntervalMinutes)*time.Minute, chief.RunBriefing),
		cron.LearningAnalysisJob(time.Duration(cfg.LearningIntervalMinutes)*time.Minute, learningRole.RunPeriodicAnalysis),
	})
	if err := scheduler.Start(ctx); err != nil {
		logger.Warn("cron scheduler failed to start", slog.String("error", err.Error()))
	}
	defer scheduler.Stop()

	cfgWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := cfgWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher failed to start", slog.String("error", err.Error()))
	}
	go func() {
		for range cfgWatcher.Events() {
			reloaded, err := config.Load()
			if err != nil {
				logger.Error("config reload failed", slog.String("error", err.Error()))
				continue
			}
			live.Reload(reloaded.Policy)
			logger.Info("config reloaded", slog.String("policy_mode", string(reloaded.Policy.Mode)))
		}
	}()

	skillDirs := append([]string{cfg.Skills.ProjectDir}, cfg.Skills.ExtraDirs...)
	skillsWatcher := skills.NewWatcher(skillDirs, logger)
	if err := skillsWatcher.Start(ctx); err != nil {
		logger.Warn("skills watcher failed to start", slog.String("error", err.Error()))
	}
	go func() {
		for range skillsWatcher.Events() {
			logger.Info("skill manifest changed, run 'coreclaw skill apply' to pick it up")
		}
	}()

	logger.Info("coreclaw daemon ready")
	q.Run(ctx)
	logger.Info("coreclaw daemon shutting down")
	return nil
}
