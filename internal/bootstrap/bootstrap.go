package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
	"github.com/kirillkom/docvault/internal/core/usecase"
	"github.com/kirillkom/docvault/internal/infrastructure/dispatch"
	"github.com/kirillkom/docvault/internal/infrastructure/dispatch/email"
	"github.com/kirillkom/docvault/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docvault/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docvault/internal/infrastructure/resilience"
	"github.com/kirillkom/docvault/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue          *nats.Queue
	DocumentRepo   ports.DocumentRepository
	ReminderRepo   ports.ReminderRepository
	Documents      *usecase.DocumentService
	Reminders      *usecase.ReminderService
	Reconciler     *usecase.ReminderReconciler
	DocumentScopes *usecase.ScopeRegistry[domain.DocumentRecord]
	ReminderScopes *usecase.ScopeRegistry[domain.ReminderRecord]

	closeFn func()
}

// New wires the stores, the change feed and the use cases. observer may be
// nil, in which case nothing is recorded.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, observer *metrics.LifecycleMetrics) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN, poolOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	documentRepo := postgres.NewDocumentRepository(db)
	reminderRepo := postgres.NewReminderRepository(db)

	executorOpts := []resilience.ExecutorOption{resilience.WithLogger(logger)}
	var onDrop func(stream, reason string)
	if observer != nil {
		executorOpts = append(executorOpts, resilience.WithStateListener(observer.ObserveBreakerState))
		onDrop = observer.ObserveFeedDrop
	}
	executor := resilience.NewExecutor(cfg.ResilienceConfig(), executorOpts...)

	queue, err := nats.NewWithOptions(cfg.NATSURL, nats.Options{
		Name:               cfg.NATSClientName,
		SubjectPrefix:      cfg.NATSSubjectPrefix,
		SubscriptionBuffer: cfg.FeedBuffer,
		ResilienceExecutor: executor,
		Logger:             logger,
		OnDrop:             onDrop,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init change feed: %w", err)
	}

	dispatcher := dispatch.NewRouter(cfg.DispatchRatePerSecond, cfg.DispatchBurst)
	dispatcher.Register(domain.ChannelEmail, email.New(cfg.MailRelayURL, email.Options{
		From:               cfg.MailFrom,
		Timeout:            cfg.MailRelayTimeout,
		Resolver:           ownerEmailResolver(documentRepo),
		ResilienceExecutor: executor,
	}))
	dispatcher.Register(domain.ChannelInApp, nats.NewInAppNotifier(queue))

	reconcilerOpts := usecase.ReconcilerOptions{Logger: logger}
	subscriberOpts := usecase.SubscriberOptions{
		ResyncInitialBackoff: cfg.ResyncInitialBackoff,
		ResyncMaxBackoff:     cfg.ResyncMaxBackoff,
		Logger:               logger,
	}
	if observer != nil {
		reconcilerOpts.Observer = observer
		subscriberOpts.Observer = observer
	}

	reconciler := usecase.NewReminderReconciler(reminderRepo, dispatcher, queue, reconcilerOpts)
	documents := usecase.NewDocumentService(documentRepo, queue, logger)
	reminders := usecase.NewReminderService(reminderRepo, queue, reconciler, logger)

	subscriberOpts.OnActivate = reconcileOnActivate(reconciler, logger)
	documentSub := usecase.NewSubscriber[domain.DocumentRecord](
		nats.StreamDocuments,
		nats.NewDocumentFeed(queue),
		postgres.NewResilientLister[domain.DocumentRecord](documentRepo, executor, "postgres.list_documents"),
		subscriberOpts,
	)
	reminderSub := usecase.NewSubscriber[domain.ReminderRecord](
		nats.StreamReminders,
		nats.NewReminderFeed(queue),
		postgres.NewResilientLister[domain.ReminderRecord](reminderRepo, executor, "postgres.list_reminders"),
		subscriberOpts,
	)

	documentScopes := usecase.NewScopeRegistry(documentSub, cfg.ScopeIdleTTL, logger)
	reminderScopes := usecase.NewScopeRegistry(reminderSub, cfg.ScopeIdleTTL, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:          queue,
		DocumentRepo:   documentRepo,
		ReminderRepo:   reminderRepo,
		Documents:      documents,
		Reminders:      reminders,
		Reconciler:     reconciler,
		DocumentScopes: documentScopes,
		ReminderScopes: reminderScopes,

		closeFn: func() {
			documentScopes.Close()
			reminderScopes.Close()
			queue.Close()
			closeQuietly(db, logger)
		},
	}, nil
}

func poolOptions(cfg config.Config) postgres.PoolOptions {
	return postgres.PoolOptions{
		MaxOpenConns:    cfg.PostgresMaxConns,
		ConnMaxIdleTime: cfg.PostgresConnMaxIdle,
	}
}

// RunJanitors sweeps idle scopes of both registries until ctx is done.
func (a *App) RunJanitors(ctx context.Context) {
	go a.DocumentScopes.Run(ctx, a.Config.ScopeSweepInterval)
	go a.ReminderScopes.Run(ctx, a.Config.ScopeSweepInterval)
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// ownerEmailResolver reads the mailbox from the owner's documents. Reminders
// carry no address of their own.
func ownerEmailResolver(repo ports.DocumentRepository) email.RecipientResolver {
	return func(ctx context.Context, ownerID string) (string, error) {
		docs, err := repo.ListByScope(ctx, domain.OwnerScope(ownerID))
		if err != nil {
			return "", fmt.Errorf("load owner documents: %w", err)
		}
		for _, doc := range docs {
			if addr := strings.TrimSpace(doc.OwnerEmail); addr != "" {
				return addr, nil
			}
		}
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve recipient", fmt.Errorf("no email on file for owner %s", ownerID))
	}
}

// reconcileOnActivate brings the reminders behind a scope up to date when the
// scope goes live. Categories do not partition reminders, so only the owner
// is kept; an admin-wide scope reconciles every owner.
func reconcileOnActivate(reconciler ports.ReminderReconciliation, logger *slog.Logger) func(context.Context, domain.Scope) {
	return func(ctx context.Context, scope domain.Scope) {
		if _, err := reconciler.Reconcile(ctx, domain.OwnerScope(scope.OwnerID)); err != nil && ctx.Err() == nil {
			logger.Warn("reconcile_on_activate_failed", "scope", scope.Key(), "error", err)
		}
	}
}

func closeQuietly(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("postgres_close_failed", "error", err)
	}
}
