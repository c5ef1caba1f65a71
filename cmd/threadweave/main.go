package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"

	"github.com/threadweave/threadweave/internal/agentcall"
	"github.com/threadweave/threadweave/internal/approval"
	approvalrepo "github.com/threadweave/threadweave/internal/approval/repositoryimpl"
	"github.com/threadweave/threadweave/internal/config"
	"github.com/threadweave/threadweave/internal/correlation"
	"github.com/threadweave/threadweave/internal/eventbus"
	"github.com/threadweave/threadweave/internal/graph"
	"github.com/threadweave/threadweave/internal/notification"
	notificationrepo "github.com/threadweave/threadweave/internal/notification/repositoryimpl"
	"github.com/threadweave/threadweave/internal/orchestrator"
	staterepo "github.com/threadweave/threadweave/internal/state/repositoryimpl"
	"github.com/threadweave/threadweave/internal/workflow"
	workflowrepo "github.com/threadweave/threadweave/internal/workflow/repositoryimpl"
	"github.com/threadweave/threadweave/pkg/clog"
	"github.com/threadweave/threadweave/pkg/panicerr"
	"github.com/threadweave/threadweave/pkg/storage"
)

var (
	app = kingpin.New("threadweave", "Workflow orchestration engine for external agents")

	serveCmd = app.Command("serve", "Run the engine daemon")

	runCmd             = app.Command("run", "Execute a workflow definition once")
	runFile            = runCmd.Arg("definition", "Definition YAML file or stored workflow ID").Required().String()
	runThread          = runCmd.Flag("thread", "Thread ID to resume").String()
	runProject         = runCmd.Flag("project", "Project ID").String()
	runNewConversation = runCmd.Flag("new-conversation", "Drop stored agent sessions before running").Bool()

	validateCmd  = app.Command("validate", "Validate a workflow definition")
	validateFile = validateCmd.Arg("definition", "Workflow definition YAML file").Required().String()

	statusCmd    = app.Command("status", "Show thread status")
	statusThread = statusCmd.Arg("thread", "Thread ID").Required().String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}
	setupLogger(env)

	switch command {
	case serveCmd.FullCommand():
		runServe(env)
	case runCmd.FullCommand():
		runOnce(env, *runFile, *runThread, *runProject, *runNewConversation)
	case validateCmd.FullCommand():
		runValidate(*validateFile)
	case statusCmd.FullCommand():
		runStatus(env, *statusThread)
	}
}

func setupLogger(env *config.Env) {
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
}

func setupStorage(env *config.Env) storage.Storage {
	switch env.StorageEnv.Type {
	case "s3":
		store, err := storage.NewS3Storage(context.Background(), env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
		return store
	default:
		store, err := storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
		return store
	}
}

// engine bundles the wired components shared by the daemon and one-shot
// commands.
type engine struct {
	orchestrator *orchestrator.Orchestrator
	tracker      *correlation.Tracker
	gate         *approval.Gate
	bus          *eventbus.Bus
	dispatcher   *notification.Dispatcher
	workflows    workflow.Repository
	env          *config.Env
}

func buildEngine(env *config.Env) *engine {
	store := setupStorage(env)
	bus := eventbus.New()

	engineEnv := config.EngineEnvFromEnv(env)
	approvalEnv := config.ApprovalEnvFromEnv(env)

	tracker := correlation.NewTracker(correlation.WithMaxPending(engineEnv.MaxPendingResponses))

	gate := approval.NewGate(approvalrepo.NewYAMLRepository(store), bus, approval.GateConfig{
		DefaultTimeout:        time.Duration(approvalEnv.TimeoutSeconds) * time.Second,
		ExpiryPolicy:          approval.ExpiryPolicy(approvalEnv.ExpiryPolicy),
		MaxRiskForAutoApprove: approval.RiskLevel(approvalEnv.MaxRiskForAutoApprove),
		EscalationDelay:       time.Duration(approvalEnv.EscalationDelaySeconds) * time.Second,
		EscalationUser:        approvalEnv.EscalationUser,
	})

	workDir, err := os.Getwd()
	if err != nil {
		workDir = "."
	}
	invoker := agentcall.NewClaudeInvoker(workDir, nil)

	orch := orchestrator.New(
		tracker,
		gate,
		staterepo.NewYAMLRepository(store),
		invoker,
		bus,
		orchestrator.Config{
			StepTimeout:     time.Duration(engineEnv.StepTimeoutMS) * time.Millisecond,
			ResponseTimeout: time.Duration(engineEnv.ResponseTimeoutMS) * time.Millisecond,
			ApprovalTimeout: time.Duration(approvalEnv.TimeoutSeconds) * time.Second,
			ParallelLimit:   engineEnv.ParallelLimit,
		},
	)

	sender := notification.NewWebPushSender(config.VAPIDEnvFromEnv(env), notificationrepo.NewYAMLSubscriptionRepository(store))
	dispatcher := notification.NewDispatcher(bus, notificationrepo.NewYAMLRecordRepository(store), sender)

	return &engine{
		orchestrator: orch,
		tracker:      tracker,
		gate:         gate,
		bus:          bus,
		dispatcher:   dispatcher,
		workflows:    workflowrepo.NewYAMLRepository(store),
		env:          env,
	}
}

func runServe(env *config.Env) {
	e := buildEngine(env)
	defer e.tracker.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engineEnv := config.EngineEnvFromEnv(env)
	approvalEnv := config.ApprovalEnvFromEnv(env)

	registry := workflow.NewRegistry()
	watcher := workflow.NewWatcher(engineEnv.DefinitionsDir, registry, e.workflows)
	if err := watcher.LoadAll(ctx); err != nil {
		slog.Warn("failed to load workflow definitions", "error", err)
	}

	runBackground(ctx, "definition-watcher", watcher.Start)
	runBackground(ctx, "response-sweeper", func(ctx context.Context) error {
		e.tracker.RunSweeper(ctx, time.Duration(engineEnv.SweepIntervalSeconds)*time.Second)
		return nil
	})
	runBackground(ctx, "approval-expiry", func(ctx context.Context) error {
		e.gate.RunExpiryScan(ctx, time.Duration(approvalEnv.ExpiryScanIntervalSecond)*time.Second)
		return nil
	})
	runBackground(ctx, "notification-dispatcher", func(ctx context.Context) error {
		e.dispatcher.Start(ctx)
		return nil
	})

	slog.Info("threadweave daemon started",
		"definitions_dir", engineEnv.DefinitionsDir,
		"loaded_workflows", len(registry.All()))

	<-ctx.Done()
	slog.Info("shutting down")
}

// runBackground starts a worker goroutine with panic recovery. A worker
// that exits with an error before shutdown is logged, not fatal.
func runBackground(ctx context.Context, name string, fn func(context.Context) error) {
	go func() {
		if err := panicerr.SafeContext(fn)(ctx); err != nil && ctx.Err() == nil {
			slog.Error("background worker stopped", "worker", name, "error", err)
		}
	}()
}

// resolveDefinition reads the argument as a YAML file path, falling
// back to the stored workflow repository when it names no file.
func resolveDefinition(ctx context.Context, repo workflow.Repository, arg string) (*workflow.Definition, error) {
	if _, err := os.Stat(arg); err == nil {
		return loadDefinition(arg)
	}
	def, err := repo.Get(ctx, arg)
	if err != nil {
		return nil, fmt.Errorf("no definition file or stored workflow %q: %w", arg, err)
	}
	return def, nil
}

func loadDefinition(path string) (*workflow.Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var def workflow.Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &def, nil
}

func runOnce(env *config.Env, file, threadID, projectID string, newConversation bool) {
	e := buildEngine(env)
	defer e.tracker.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	def, err := resolveDefinition(ctx, e.workflows, file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	engineEnv := config.EngineEnvFromEnv(env)
	approvalEnv := config.ApprovalEnvFromEnv(env)
	runBackground(ctx, "response-sweeper", func(ctx context.Context) error {
		e.tracker.RunSweeper(ctx, time.Duration(engineEnv.SweepIntervalSeconds)*time.Second)
		return nil
	})
	runBackground(ctx, "approval-expiry", func(ctx context.Context) error {
		e.gate.RunExpiryScan(ctx, time.Duration(approvalEnv.ExpiryScanIntervalSecond)*time.Second)
		return nil
	})
	runBackground(ctx, "notification-dispatcher", func(ctx context.Context) error {
		e.dispatcher.Start(ctx)
		return nil
	})

	if projectID == "" {
		projectID = def.Metadata.ProjectID
	}

	resp, err := e.orchestrator.Execute(ctx, &orchestrator.Request{
		WorkflowID:           def.ID,
		WorkflowName:         def.Name,
		Steps:                def.Steps,
		ThreadID:             threadID,
		StartNewConversation: newConversation,
		ProjectID:            projectID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "execution failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("thread: %s\n", resp.ThreadID)
	fmt.Printf("status: %s\n", resp.Status)
	fmt.Printf("steps:  %d total, %d successful, %d failed, %d blocked\n",
		resp.Summary.Total, resp.Summary.Successful, resp.Summary.Failed, resp.Summary.Blocked)
	fmt.Printf("took:   %dms\n", resp.Summary.DurationMS)

	if resp.Status != "completed" {
		os.Exit(1)
	}
}

func runValidate(file string) {
	def, err := loadDefinition(file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := def.ValidateShape(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	if errs := graph.Validate(def); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "invalid: %v\n", e)
		}
		os.Exit(1)
	}
	fmt.Printf("%s: valid (%d steps)\n", def.ID, len(def.Steps))
}

func runStatus(env *config.Env, threadID string) {
	e := buildEngine(env)
	defer e.tracker.Close()

	report, err := e.orchestrator.Status(context.Background(), threadID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status query failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("thread:    %s\n", report.ThreadID)
	fmt.Printf("status:    %s\n", report.OverallStatus)
	fmt.Printf("completed: %d\n", report.CompletedSteps)
	fmt.Printf("resumable: %t\n", report.CanResume)
	for id, st := range report.StepStatuses {
		fmt.Printf("  %-20s %s\n", id, st)
	}
}
