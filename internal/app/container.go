package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/acme/dial-engine/internal/amd"
	"github.com/acme/dial-engine/internal/config"
	"github.com/acme/dial-engine/internal/executor"
	"github.com/acme/dial-engine/internal/infra/db"
	"github.com/acme/dial-engine/internal/infra/redis"
	"github.com/acme/dial-engine/internal/lifecycle"
	"github.com/acme/dial-engine/internal/media"
	"github.com/acme/dial-engine/internal/queue"
	"github.com/acme/dial-engine/internal/reconciler"
	"github.com/acme/dial-engine/internal/repository"
	pgrepo "github.com/acme/dial-engine/internal/repository/postgres"
	scyllarepo "github.com/acme/dial-engine/internal/repository/scylla"
	"github.com/acme/dial-engine/internal/routehealth"
	"github.com/acme/dial-engine/internal/scheduler"
	"github.com/acme/dial-engine/internal/throttle"
	"github.com/acme/dial-engine/internal/timer"
	"github.com/acme/dial-engine/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
	}
}

type repositories struct {
	Calls     repository.CallRepository
	Attempts  repository.AttemptRepository
	Jobs      repository.JobRepository
	Trunks    repository.TrunkRepository
	Health    repository.RouteHealthRepository
	Timers    repository.TimerRepository
	Campaigns repository.CampaignRepository
	Agents    repository.AgentRepository
	Leads     repository.LeadRepository
	Audit     repository.AuditStore
}

type services struct {
	Throttle    *throttle.TrunkThrottle
	Outcomes    *queue.OutcomePublisher
	Lifecycle   *lifecycle.Service
	Scheduler   *scheduler.Scheduler
	Executor    *executor.Executor
	TimerSweep  *timer.Sweeper
	RouteHealth *routehealth.Monitor
	Media       *media.Monitor
	AMD         *amd.Service
	Reconciler  *reconciler.Reconciler
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		sqlDB := c.Postgres.DB()
		repos := &repositories{
			Calls:     pgrepo.NewCallRepository(sqlDB),
			Attempts:  pgrepo.NewAttemptRepository(sqlDB),
			Jobs:      pgrepo.NewJobRepository(sqlDB),
			Trunks:    pgrepo.NewTrunkRepository(sqlDB),
			Health:    pgrepo.NewRouteHealthRepository(sqlDB),
			Timers:    pgrepo.NewTimerRepository(sqlDB),
			Campaigns: pgrepo.NewCampaignRepository(sqlDB),
			Agents:    pgrepo.NewAgentRepository(sqlDB),
			Leads:     pgrepo.NewLeadRepository(sqlDB),
			Audit:     scyllarepo.NewAuditStore(c.Scylla.Session()),
		}

		trunkThrottle := throttle.New(c.Redis.Inner(), c.Config.Throttle.ChannelTTL)
		outcomes := queue.NewOutcomePublisher(c.Kafka, c.Config.Kafka.OutcomeTopic)

		lifecycleSvc := lifecycle.NewService(
			repos.Calls,
			repos.Attempts,
			repos.Audit,
			repos.Timers,
			trunkThrottle,
			outcomes,
			lifecycle.Deadlines{
				RingTimeout:  c.Config.Timers.RingTimeout,
				NoRTPTimeout: c.Config.Timers.NoRTPTimeout,
				MaxDuration:  c.Config.Timers.MaxDuration,
			},
			c.Logger.Named("lifecycle"),
		)

		svcs := &services{
			Throttle:  trunkThrottle,
			Outcomes:  outcomes,
			Lifecycle: lifecycleSvc,
			Scheduler: scheduler.New(
				repos.Campaigns,
				repos.Agents,
				repos.Leads,
				repos.Calls,
				repos.Attempts,
				repos.Jobs,
				c.Config.Scheduler.LeadBatchMax,
				c.Config.Scheduler.TickInterval,
				c.Logger.Named("scheduler"),
			),
			Executor: executor.New(
				"",
				repos.Jobs,
				repos.Attempts,
				repos.Trunks,
				repos.Health,
				trunkThrottle,
				lifecycleSvc,
				c.Config.Executor.PollInterval,
				c.Config.Executor.BatchSize,
				c.Config.Executor.LockTimeout,
				c.Logger.Named("executor"),
			),
			TimerSweep: timer.NewSweeper(
				repos.Timers,
				repos.Calls,
				lifecycleSvc,
				c.Config.Timers.SweepInterval,
				c.Config.Timers.SweepBatch,
				c.Logger.Named("timer"),
			),
			RouteHealth: routehealth.NewMonitor(
				repos.Health,
				c.Config.RouteHealth.Window,
				c.Config.RouteHealth.Interval,
				c.Logger.Named("routehealth"),
			),
			Media: media.NewMonitor(
				repos.Calls,
				c.Redis.Inner(),
				lifecycleSvc,
				c.Config.Media.GracePeriod,
				c.Config.Media.SampleTTL,
				c.Config.Media.ScanInterval,
				c.Config.Media.ScanBatch,
				c.Logger.Named("media"),
			),
			Reconciler: reconciler.New(
				repos.Attempts,
				repos.Audit,
				lifecycleSvc,
				c.Logger.Named("reconciler"),
			),
		}

		svcs.AMD = amd.NewService(
			amd.NewSimulatedProvider(c.Config.AMD.HumanRate, c.Config.AMD.Latency, c.Config.AMD.Seed),
			repos.Calls,
			lifecycleSvc,
			c.Config.AMD.Timeout,
			c.Logger.Named("amd"),
		)

		c.components.repositories = repos
		c.components.services = svcs
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// AccountIDs parses the configured account list for the worker loops.
func (c *Container) AccountIDs() ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(c.Config.Scheduler.Accounts))
	for _, raw := range c.Config.Scheduler.Accounts {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse account id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.SignalingTopic, c.Config.Kafka.OutcomeTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 48, 1)
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.components.services != nil && c.components.services.Outcomes != nil {
		if err := c.components.services.Outcomes.Close(); err != nil {
			errs = append(errs, fmt.Errorf("outcome publisher close: %w", err))
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
