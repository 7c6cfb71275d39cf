package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/conductor/internal/config"
	"github.com/p-blackswan/conductor/internal/confluence"
	"github.com/p-blackswan/conductor/internal/event"
	ghclient "github.com/p-blackswan/conductor/internal/github"
	"github.com/p-blackswan/conductor/internal/health"
	"github.com/p-blackswan/conductor/internal/ingest"
	"github.com/p-blackswan/conductor/internal/jira"
	"github.com/p-blackswan/conductor/internal/metrics"
	"github.com/p-blackswan/conductor/internal/orch"
	"github.com/p-blackswan/conductor/internal/poller"
	"github.com/p-blackswan/conductor/internal/queue"
	"github.com/p-blackswan/conductor/internal/runner"
	"github.com/p-blackswan/conductor/internal/server"
	slackclient "github.com/p-blackswan/conductor/internal/slack"
	"github.com/p-blackswan/conductor/internal/store"
	"github.com/p-blackswan/conductor/pkg/tokenstore"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Bool("github_enabled", cfg.GitHubEnabled()).
		Bool("jira_enabled", cfg.JiraEnabled()).
		Bool("confluence_enabled", cfg.ConfluenceEnabled()).
		Msg("starting conductor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	mets := metrics.New()
	checker := health.NewChecker(logger)
	checker.Register("store", func(ctx context.Context) health.Status {
		if err := st.DB().PingContext(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// External clients. Unconfigured GitHub, Jira and Confluence
	// clients stay nil; the chat client is always built and fails the
	// calls whose credentials are missing. The pipeline surfaces an
	// error the first time an unconfigured integration is used.
	chat := slackclient.NewClient(cfg.SlackBotToken, cfg.SlackWebhookURL, cfg.SlackChannel, logger)

	var scm orch.SourceControl
	if cfg.GitHubEnabled() {
		ghc, err := ghclient.NewClient(
			cfg.GitHubAppID, cfg.GitHubInstallationID, cfg.GitHubPrivateKeyPath,
			cfg.GitHubOwner, cfg.GitHubRepo,
			tokenstore.NewMemoryStore(), logger,
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init GitHub client")
		}
		scm = ghc
	} else {
		logger.Info().Msg("GitHub not configured — skipping")
	}

	var issues orch.IssueTracker
	if cfg.JiraEnabled() {
		issues = jira.NewClient(cfg.JiraBaseURL, cfg.JiraAPIEmail, cfg.JiraAPIToken, cfg.JiraProjectKey, logger)
	} else {
		logger.Info().Msg("Jira not configured — skipping")
	}

	var docs *confluence.Client
	var docsIface orch.DocumentStore
	if cfg.ConfluenceEnabled() {
		docs = confluence.NewClient(cfg.ConfluenceBaseURL, cfg.ConfluenceAPIEmail, cfg.ConfluenceAPIToken, cfg.ConfluenceSpaceKey, logger)
		docsIface = docs
	} else {
		logger.Info().Msg("Confluence not configured — skipping")
	}

	roster, err := orch.LoadRoster(cfg.AgentRoster)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load agent roster")
	}

	worktrees := runner.NewGitWorktrees(cfg.RepoDir, cfg.DesignDir+"/.worktrees", logger)
	agentRunner := runner.New(&runner.ExecSpawner{Bin: cfg.AgentBin}, worktrees, logger)

	orchestrator := orch.New(
		st, issues, docsIface, scm, chat, agentRunner, roster,
		orch.Layout{Base: cfg.DesignDir},
		orch.Config{
			MaxCIRetries:     cfg.MaxCIRetries,
			MaxReviewRetries: cfg.MaxReviewRetries,
			AgentTimeout:     cfg.AgentTimeout,
			AgentHeartbeat:   cfg.AgentHeartbeat,
		},
		mets, logger,
	)

	queues := map[string]*queue.Queue{
		queue.Architect:    queue.New(ctx, queue.Config{Name: queue.Architect, Concurrency: cfg.ArchitectWorkers}, orchestrator.ArchitectWorker, mets, logger),
		queue.CodeWriter:   queue.New(ctx, queue.Config{Name: queue.CodeWriter, Concurrency: cfg.CodeWriterWorkers}, orchestrator.CodeWriterWorker, mets, logger),
		queue.Reviewer:     queue.New(ctx, queue.Config{Name: queue.Reviewer, Concurrency: cfg.ReviewerWorkers}, orchestrator.ReviewerWorker, mets, logger),
		queue.Orchestrator: queue.New(ctx, queue.Config{Name: queue.Orchestrator, Concurrency: 1}, orchestrator.OrchestratorWorker, mets, logger),
	}

	pushers := make(map[string]event.Pusher, len(queues))
	orchPushers := make(map[string]orch.Pusher, len(queues))
	for name, q := range queues {
		pushers[name] = q
		orchPushers[name] = q
	}

	dispatcher := event.NewDispatcher(pushers, mets, logger)
	orch.RegisterHandlers(dispatcher)
	orchestrator.Bind(orchPushers, dispatcher)

	slackParser := ingest.NewSlackParser(func(channel, threadTS, text string) {
		ackCtx, ackCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer ackCancel()
		if _, err := chat.PostMessage(ackCtx, channel, text, threadTS); err != nil {
			logger.Warn().Err(err).Str("channel", channel).Msg("ack failed")
		}
	}, logger)

	srv := server.New(server.Config{
		SlackVerifier:  &ingest.SlackVerifier{Secret: cfg.SlackSigningSecret},
		SlackParser:    slackParser,
		GitHubVerifier: &ingest.GitHubVerifier{Secret: cfg.GitHubWebhookSecret},
		GitHubParser:   ingest.NewGitHubParser(logger),
		Retry:          st,
		Checker:        checker,
		MetricsHandler: mets.Handler(),
		Rejects:        mets,
	}, dispatcher, logger)

	if docs != nil {
		p := poller.New(docs, dispatcher, cfg.PollInterval, logger)
		go p.Run(ctx)
	}

	go func() {
		if err := srv.Listen(fmt.Sprintf(":%d", cfg.HTTPPort)); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			sigCh <- syscall.SIGTERM
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	// Stop intake first, then drain the queues for the grace period;
	// whatever is still running when it expires dies with the process.
	if err := srv.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("server shutdown error")
	}

	deadline := time.After(cfg.DrainGracePeriod)
	for name, q := range queues {
		select {
		case <-q.Drained():
		case <-deadline:
			logger.Warn().Str("queue", name).Msg("drain grace period expired")
		}
	}
	cancel()
	for _, q := range queues {
		q.Destroy()
	}

	logger.Info().Msg("conductor stopped")
}
