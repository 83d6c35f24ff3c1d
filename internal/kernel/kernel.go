// Package kernel wires the pipeline components together and owns their
// lifecycle: database, tracker, event bus, browser session, LLM clients,
// orchestrator, audit log, and the web UI.
package kernel

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"jobpilot/internal/orch"
	"jobpilot/internal/services"
	"jobpilot/pkg/bus"
	"jobpilot/pkg/command"
	"jobpilot/pkg/config"
	"jobpilot/pkg/eventlog"
	"jobpilot/pkg/llm"
	"jobpilot/pkg/logx"
	"jobpilot/pkg/metrics"
	"jobpilot/pkg/persistence"
	"jobpilot/pkg/pipeline"
	"jobpilot/pkg/score"
	"jobpilot/pkg/session"
	"jobpilot/pkg/webui"
)

// Kernel holds every long-lived component. Fields are exported so the
// binary and tests can reach individual services without re-wiring.
type Kernel struct {
	ctx    context.Context //nolint:containedctx // kernel owns component lifetimes
	cancel context.CancelFunc

	Config *config.Config
	Logger *logx.Logger

	Database     *sql.DB
	Ops          *persistence.DatabaseOperations
	Tracker      *pipeline.Tracker
	Broadcaster  *bus.Broadcaster
	Recorder     *metrics.Recorder
	EventLog     *eventlog.Writer
	Sessions     *session.Manager
	Registry     *session.StrategyRegistry
	Interpreter  *command.Interpreter
	Orchestrator *orch.Orchestrator
	WebServer    *webui.Server
	Query        *metrics.QueryService // nil unless prometheus_url is configured

	eventLogDone chan struct{}
	running      bool
}

// NewKernel builds the full component graph over the given browser driver.
// Nothing starts until Start.
func NewKernel(parent context.Context, cfg *config.Config, driver session.Driver) (*Kernel, error) {
	ctx, cancel := context.WithCancel(parent)

	k := &Kernel{
		ctx:    ctx,
		cancel: cancel,
		Config: cfg,
		Logger: logx.NewLogger("kernel"),
	}

	if err := k.initializeServices(driver); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize kernel services: %w", err)
	}
	return k, nil
}

func (k *Kernel) initializeServices(driver session.Driver) error {
	if err := k.Config.EnsureDirs(); err != nil {
		return err
	}

	var err error
	k.Database, err = persistence.Open(k.Config.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	k.Ops = persistence.NewDatabaseOperations(k.Database)

	k.Recorder = metrics.Default()
	k.Broadcaster = bus.NewBroadcaster(k.Config.Bus.SubscriberBuffer, k.Recorder)
	k.Tracker = pipeline.NewTracker(persistence.NewJobStageStore(k.Ops), k.Broadcaster)

	k.EventLog, err = eventlog.NewWriter(k.Config.EventLogDir)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}

	k.Sessions = session.NewManager(k.Config.Session, driver, k.Broadcaster, k.Recorder)
	k.Registry = session.NewStrategyRegistry()
	k.Registry.Register(services.NewLinkedInStrategy())
	k.Registry.Register(services.NewIndeedStrategy())

	interpreterClient, err := llm.NewClient(&k.Config.Interpreter)
	if err != nil {
		return fmt.Errorf("failed to create interpreter LLM client: %w", err)
	}
	k.Interpreter = command.NewInterpreter(interpreterClient,
		k.Config.Command.ConfidenceThreshold, k.Config.Command.MaxHistoryTokens, k.Recorder)

	scorerClient, err := llm.NewClient(&k.Config.Scorer)
	if err != nil {
		return fmt.Errorf("failed to create scorer LLM client: %w", err)
	}
	profile := k.loadProfile()
	scorer := score.NewScorer(scorerClient, profile, k.Config.Scorer.MaxTokens, k.Config.Scorer.Temp, k.Recorder)

	docs := services.NewDocumentGenerator(interpreterClient, profile,
		k.Config.Applicant.ResumeFile, k.Config.DataDir+"/documents",
		k.Config.Interpreter.MaxTokens, k.Config.Interpreter.Temp, k.Recorder)
	search := services.NewSearchService(k.Sessions)

	k.Orchestrator = orch.New(k.Config, k.Ops, k.Tracker, k.Broadcaster,
		k.Sessions, k.Registry, search, docs, scorer)

	if k.Config.Metrics.PrometheusURL != "" {
		k.Query, err = metrics.NewQueryService(k.Config.Metrics.PrometheusURL)
		if err != nil {
			return fmt.Errorf("failed to create prometheus query service: %w", err)
		}
	}
	k.WebServer = webui.NewServer(k.Orchestrator, k.Interpreter, k.Broadcaster, k.Ops, k.Query)

	k.Logger.Info("kernel services initialized")
	return nil
}

// loadProfile reads the applicant profile used for scoring and cover
// letters. A missing file is fine; the prompts just carry no profile.
func (k *Kernel) loadProfile() string {
	raw, err := os.ReadFile(k.Config.Applicant.ProfileFile)
	if err != nil {
		if !os.IsNotExist(err) {
			k.Logger.Warn("failed to read profile %s: %v", k.Config.Applicant.ProfileFile, err)
		} else {
			k.Logger.Warn("no applicant profile at %s; scoring and cover letters will be generic", k.Config.Applicant.ProfileFile)
		}
		return ""
	}
	return string(raw)
}

// Start launches the browser session, the audit-log drain, and the stall
// sweeper.
func (k *Kernel) Start() error {
	if k.running {
		return fmt.Errorf("kernel already running")
	}

	if err := k.Sessions.Start(k.ctx); err != nil {
		return fmt.Errorf("failed to start browser session: %w", err)
	}

	k.startEventLogDrain()
	go k.runStallSweeper()

	k.running = true
	k.Logger.Info("kernel services started")
	return nil
}

// StartWebUI starts the HTTP server; it stops with the kernel context.
func (k *Kernel) StartWebUI() error {
	return k.WebServer.StartServer(k.ctx, k.Config.WebUI.Host, k.Config.WebUI.Port)
}

// startEventLogDrain subscribes to the bus and appends every event to the
// JSONL audit log until shutdown.
func (k *Kernel) startEventLogDrain() {
	id, events := k.Broadcaster.Subscribe()
	k.eventLogDone = make(chan struct{})

	go func() {
		defer close(k.eventLogDone)
		defer k.Broadcaster.Unsubscribe(id)
		// Ends on channel close at shutdown, not on k.ctx, so buffered
		// events still reach the log.
		k.EventLog.Drain(context.Background(), events)
	}()
}

// runStallSweeper periodically flags items that have stopped advancing.
func (k *Kernel) runStallSweeper() {
	interval := k.Config.Pipeline.StallThreshold / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.ctx.Done():
			return
		case <-ticker.C:
			stalled, err := k.Orchestrator.StallSweep(k.ctx)
			if err != nil {
				k.Logger.Warn("stall sweep failed: %v", err)
				continue
			}
			if len(stalled) > 0 {
				k.Logger.Info("stall sweep flagged %d item(s)", len(stalled))
			}
		}
	}
}

// Stop shuts everything down: session worker first so no new events are
// produced, then the bus, the audit log, and finally the database.
func (k *Kernel) Stop() error {
	if !k.running {
		k.cancel()
		return nil
	}

	k.Logger.Info("stopping kernel services")
	k.cancel()

	if err := k.Sessions.Close(); err != nil {
		k.Logger.Error("error closing browser session: %v", err)
	}

	k.Broadcaster.Close()
	if k.eventLogDone != nil {
		select {
		case <-k.eventLogDone:
		case <-time.After(5 * time.Second):
			k.Logger.Warn("timeout waiting for event log drain")
		}
	}
	if err := k.EventLog.Close(); err != nil {
		k.Logger.Error("error closing event log: %v", err)
	}

	if err := k.Database.Close(); err != nil {
		k.Logger.Error("error closing database: %v", err)
	}

	k.running = false
	k.Logger.Info("kernel services stopped")
	return nil
}
