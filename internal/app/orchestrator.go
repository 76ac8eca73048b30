package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/clipcast-hq/clipcast-pipeline/internal/api"
	"github.com/clipcast-hq/clipcast-pipeline/internal/config"
	"github.com/clipcast-hq/clipcast-pipeline/internal/dispatch"
	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/internal/logger"
	"github.com/clipcast-hq/clipcast-pipeline/internal/pipeline"
	"github.com/clipcast-hq/clipcast-pipeline/internal/retry"
	"github.com/clipcast-hq/clipcast-pipeline/internal/scheduler"
	"github.com/clipcast-hq/clipcast-pipeline/internal/store"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/notify"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/sources"
)

// Orchestrator is the pipeline runtime. It owns the durable store, the
// discovery and scheduling loops, the dispatch substrate, the completion
// delivery paths, and the management API.
type Orchestrator struct {
	cfg   *config.Config
	log   logger.Logger
	store store.Store

	scheduler *scheduler.Scheduler
	apiServer *api.Server
	poller    *dispatch.Poller
	consumer  *dispatch.SQSConsumer
}

// NewOrchestrator builds the runtime from config files.
func NewOrchestrator(ctx context.Context, cfg *config.Config, log logger.Logger) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	channelReg, err := channels.LoadRegistry(cfg.ChannelsFile)
	if err != nil {
		return nil, fmt.Errorf("load channels registry: %w", err)
	}
	enabled := channelReg.Enabled()
	channelIDs := make([]string, 0, len(enabled))
	for _, ch := range enabled {
		channelIDs = append(channelIDs, ch.ID)
	}
	log.InfoObj("channels registry loaded", "channels_meta", map[string]any{
		"count": len(channelIDs),
		"ids":   channelIDs,
	})

	fanout, err := buildNotifiers(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	creds, err := pipeline.LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	policy := retry.NewPolicy(cfg.RetryBaseDelay, cfg.RetryMaxDelay, map[domain.Stage]int{
		domain.StageAcquiring:    cfg.MaxAttemptsAcquire,
		domain.StageTransforming: cfg.MaxAttemptsTransform,
		domain.StagePublishing:   cfg.MaxAttemptsPublish,
	})
	st, err := store.NewStore(cfg.StorageType, cfg.BBoltPath, store.Options{
		Retention:       cfg.Retention,
		CleanupInterval: cfg.StorageCleanupInterval,
		Policy:          policy,
	})
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":              cfg.StorageType,
		"path":              cfg.BBoltPath,
		"retention_seconds": int(cfg.Retention.Seconds()),
	})

	completions := dispatch.NewCompletions(st, log)

	dispatcher, poller, consumer, err := buildDispatch(ctx, cfg, st, completions, creds, log)
	if err != nil {
		st.Close()
		return nil, err
	}

	sched, err := scheduler.New(scheduler.Options{
		Store:             st,
		Channels:          channelReg,
		Sources:           sources.DefaultRegistry(nil),
		Dispatcher:        dispatcher,
		Notify:            fanout,
		Log:               log,
		PollInterval:      cfg.PollInterval,
		DiscoveryInterval: cfg.DiscoveryInterval,
		LeaseTTL:          cfg.LeaseTTL,
		MaxExecutors:      cfg.MaxExecutors,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	apiServer := api.NewServer(cfg.APIAddr, st, channelReg, completions, log)

	return &Orchestrator{
		cfg:       cfg,
		log:       log,
		store:     st,
		scheduler: sched,
		apiServer: apiServer,
		poller:    poller,
		consumer:  consumer,
	}, nil
}

func buildNotifiers(ctx context.Context, cfg *config.Config, log logger.Logger) (*notify.Fanout, error) {
	if cfg.NotifiersFile == "" {
		return nil, nil
	}

	notifierReg, err := notify.LoadRegistry(cfg.NotifiersFile)
	if err != nil {
		return nil, fmt.Errorf("load notifiers registry: %w", err)
	}

	enabled := notifierReg.Enabled()
	clients, err := notify.BuildAll(ctx, notify.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build notifiers: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabled))
	for _, n := range enabled {
		summaries = append(summaries, map[string]string{"id": n.ID, "type": n.Type})
	}
	log.InfoObj("notifiers registry loaded", "notifiers_meta", map[string]any{
		"count":     len(summaries),
		"notifiers": summaries,
	})
	return notify.NewFanout(clients), nil
}

func buildDispatch(ctx context.Context, cfg *config.Config, st store.Store, completions *dispatch.Completions, creds *pipeline.Credentials, log logger.Logger) (dispatch.Dispatcher, *dispatch.Poller, *dispatch.SQSConsumer, error) {
	switch cfg.DispatchMode {
	case "", dispatch.TargetLocal:
		executor := pipeline.NewExecutor(
			pipeline.NewHTTPAcquirer(cfg.ArtifactDir),
			pipeline.NewExecTransformer(cfg.ArtifactDir),
			pipeline.NewHTTPPublisher(creds),
		)
		return dispatch.NewLocalDispatcher(executor, cfg.StageTimeout), nil, nil, nil

	case dispatch.TargetRemote:
		if cfg.RunnerURL == "" {
			return nil, nil, nil, fmt.Errorf("remote dispatch requires runner_url")
		}
		dispatcher := dispatch.NewRemoteDispatcher(cfg.RunnerURL, cfg.RunnerToken)
		poller := dispatch.NewPoller(cfg.RunnerURL, cfg.RunnerToken, cfg.RunnerPollInterval, st, completions, log)

		var consumer *dispatch.SQSConsumer
		if cfg.ResultsQueueURL != "" {
			var err error
			consumer, err = dispatch.NewSQSConsumer(ctx, cfg.ResultsQueueURL, cfg.ResultsQueueRegion, completions, log)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("init results consumer: %w", err)
			}
		}
		return dispatcher, poller, consumer, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported dispatch mode %q", cfg.DispatchMode)
	}
}

// Run starts every runtime component and blocks until the context is
// cancelled or one of them fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.closeStore()

	o.log.InfoObj("orchestrator starting", "orchestrator_state", map[string]any{
		"api_addr":      o.cfg.APIAddr,
		"dispatch_mode": o.cfg.DispatchMode,
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return o.scheduler.Run(ctx) })
	g.Go(func() error { return o.apiServer.Run(ctx) })
	if o.poller != nil {
		g.Go(func() error { return o.poller.Run(ctx) })
	}
	if o.consumer != nil {
		g.Go(func() error { return o.consumer.Run(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	o.log.InfoObj("orchestrator stopped", "reason", fmt.Sprint(err))
	return err
}

func (o *Orchestrator) closeStore() {
	if o == nil || o.store == nil {
		return
	}
	if err := o.store.Close(); err != nil {
		o.log.ErrorObj("storage close failed", "error", err)
	}
}
