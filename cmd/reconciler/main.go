// Package main is the entry point of the pagela attendance reconciler.
//
// The reconciler makes sure every enrolled child has exactly one weekly
// attendance record for each week of the academic year since they joined.
// It runs once and exits by default, or keeps running on a schedule when
// SCHEDULER_ENABLED is set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/pagela-hub/pagela-hub/config"
	"github.com/pagela-hub/pagela-hub/internal/application/reconcile"
	"github.com/pagela-hub/pagela-hub/internal/infrastructure/external/pagela"
	"github.com/pagela-hub/pagela-hub/internal/infrastructure/persistence/postgres"
	"github.com/pagela-hub/pagela-hub/internal/infrastructure/persistence/redis"
	"github.com/pagela-hub/pagela-hub/internal/infrastructure/scheduler"
	"github.com/pagela-hub/pagela-hub/internal/infrastructure/scheduler/jobs"
	"github.com/pagela-hub/pagela-hub/pkg/logger"
	"github.com/pagela-hub/pagela-hub/pkg/ratelimit"
)

// ══════════════════════════════════════════════════════════════════════════════
// FLAGS
// ══════════════════════════════════════════════════════════════════════════════

// Flags override the loaded configuration for a single invocation.
type Flags struct {
	Year     int
	DryRun   bool
	Once     bool
	Verify   bool
	Clubs    string
	Children string
	History  int
}

func parseFlags(args []string) (*Flags, error) {
	fs := flag.NewFlagSet("reconciler", flag.ContinueOnError)
	f := &Flags{}
	fs.IntVar(&f.Year, "year", 0, "year to reconcile (default: RECONCILE_YEAR or the current year)")
	fs.BoolVar(&f.DryRun, "dry-run", false, "count missing weeks without creating records")
	fs.BoolVar(&f.Once, "once", false, "run once and exit even when the scheduler is enabled")
	fs.BoolVar(&f.Verify, "verify", false, "re-count each child's records after creating")
	fs.StringVar(&f.Clubs, "club", "", "comma-separated club numbers to restrict the run to")
	fs.StringVar(&f.Children, "child", "", "comma-separated child ids to restrict the run to")
	fs.IntVar(&f.History, "history", 0, "print the N most recent runs and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// apply copies the flags that were set onto cfg.
func (f *Flags) apply(cfg *config.Config) error {
	if f.Year != 0 {
		cfg.Reconcile.Year = f.Year
	}
	if f.DryRun {
		cfg.Reconcile.DryRun = true
	}
	if f.Verify {
		cfg.Reconcile.VerifyAfter = true
	}
	if f.Clubs != "" {
		clubs, err := config.ParseIntList(f.Clubs)
		if err != nil {
			return fmt.Errorf("-club: %w", err)
		}
		cfg.Reconcile.ClubNumbers = clubs
	}
	if f.Children != "" {
		cfg.Reconcile.ChildIDs = config.ParseStringList(f.Children)
	}
	// A one-off run never starts the scheduler.
	if f.Once || f.DryRun {
		cfg.Scheduler.Enabled = false
	}
	return cfg.Validate()
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := flags.apply(cfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting pagela reconciler",
		"env", cfg.App.Environment,
		"debug", cfg.App.Debug,
		"timezone", cfg.App.Timezone,
		"scheduler", cfg.Scheduler.Enabled,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. RUN HISTORY (PostgreSQL, optional)
	// ─────────────────────────────────────────────────────────────────────────
	var history *postgres.RunRepository
	if cfg.Database.URL != "" {
		conn, err := connectDatabase(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database connection...")
			conn.Close()
		}()
		history = postgres.NewRunRepository(conn)
	}

	if flags.History > 0 {
		if history == nil {
			return errors.New("-history requires DATABASE_URL")
		}
		return printHistory(ctx, history, cfg, flags.History, log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. RUN LOCK AND PERIOD CACHE (Redis, optional)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		locker      jobs.RunLocker
		periodCache reconcile.PeriodCache
	)
	if !cfg.Redis.Disabled {
		cache, err := connectRedis(ctx, cfg)
		if err != nil {
			log.Warn("failed to connect to Redis, running without lock and cache", logger.Err(err))
		} else {
			defer cache.Close()
			locker = redis.NewRunLock(cache, cfg.Redis.LockTTL, log)
			periodCache = redis.NewPeriodCache(cache, cfg.Redis.PeriodTTL)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. STORE CLIENT AND RECONCILER
	// ─────────────────────────────────────────────────────────────────────────
	client := pagela.NewClient(clientConfig(cfg, log))

	seed := cfg.Reconcile.FillSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	reconciler := reconcile.New(reconcile.Config{
		Store:      client,
		Resolver:   reconcile.NewResolver(client, periodCache, log),
		Fill:       reconcile.NewRandomFill(seed),
		WritePacer: ratelimit.NewInterval(cfg.Reconcile.WriteInterval, nil),
		Logger:     log,
	})

	jobConfig := jobs.ReconcileAttendanceConfig{
		Year:     cfg.Reconcile.Year,
		Location: cfg.App.Location,
		Options: reconcile.Options{
			DryRun:      cfg.Reconcile.DryRun,
			ClubNumbers: cfg.Reconcile.ClubNumbers,
			ChildIDs:    cfg.Reconcile.ChildIDs,
			VerifyAfter: cfg.Reconcile.VerifyAfter,
			ErrorLogCap: cfg.Reconcile.ErrorLogCap,
		},
		Timeout: cfg.Reconcile.Timeout,
	}

	var runHistory jobs.RunHistory
	if history != nil {
		runHistory = history
	}
	job := jobs.NewReconcileAttendanceJob(reconciler, locker, runHistory, log, jobConfig)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{
		Logger:   log,
		Timezone: cfg.App.Location,
	})

	schedule, err := scheduler.ParseSchedule(cfg.Scheduler.Cron, cfg.Scheduler.Interval)
	if err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	if err := sched.Register(job, schedule, cfg.Scheduler.RunOnStart); err != nil {
		return fmt.Errorf("failed to register job: %w", err)
	}

	if !cfg.Scheduler.Enabled {
		return runOnce(ctx, sched, job, log)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	log.Info("pagela reconciler is running", "schedule", schedule.String())

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal")
	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	stopped := make(chan error, 1)
	go func() { stopped <- sched.Stop() }()

	select {
	case err := <-stopped:
		if err != nil {
			return fmt.Errorf("failed to stop scheduler: %w", err)
		}
	case <-time.After(cfg.App.ShutdownTimeout):
		return errors.New("shutdown timed out")
	}

	logJobInfo(sched, job.Name(), log)
	log.Info("shutdown completed successfully")
	return nil
}

// runOnce runs the job a single time. Per-record failures are reported in
// the stats and do not fail the process.
func runOnce(ctx context.Context, sched *scheduler.Scheduler, job *jobs.ReconcileAttendanceJob, log *slog.Logger) error {
	result, err := sched.RunNow(ctx, job.Name())
	if err != nil {
		return err
	}

	if stats := job.LastStats(); stats != nil && stats.Errors > 0 {
		log.Warn("run completed with errors", logger.RunID(stats.RunID), slog.Int("errors", stats.Errors))
	}
	log.Info("run completed", slog.Duration("duration", result.Duration))
	logJobInfo(sched, job.Name(), log)
	return nil
}

// logJobInfo reports the scheduler's counters for a job.
func logJobInfo(sched *scheduler.Scheduler, name string, log *slog.Logger) {
	info, err := sched.GetJobInfo(name)
	if err != nil {
		log.Warn("job info unavailable", logger.Operation(name), logger.Err(err))
		return
	}

	attrs := []any{
		logger.Operation(info.Name),
		slog.Int64("runs", info.RunCount),
		slog.Int64("failures", info.FailCount),
	}
	if last := info.LastResult; last != nil {
		attrs = append(attrs, slog.Bool("last_success", last.Success), slog.Time("last_run", last.StartedAt))
	}
	log.Info("job summary", attrs...)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures structured logging and installs it as default.
func setupLogger(cfg *config.Config) *slog.Logger {
	var log *slog.Logger
	if cfg.Observability.LogFormat != "" {
		opts := logger.DefaultOptions()
		opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
		if cfg.App.Debug {
			opts.Level = slog.LevelDebug
		}
		opts.Format = logger.Format(cfg.Observability.LogFormat)
		log = logger.New(opts)
	} else {
		log = logger.ForEnvironment(string(cfg.App.Environment), cfg.Observability.LogLevel, cfg.App.Debug)
	}

	log = log.With(slog.String("app", cfg.App.Name))
	slog.SetDefault(log)
	return log
}

func connectDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (*postgres.Connection, error) {
	log.Info("connecting to database...")
	poolCfg := postgres.DefaultPoolConfig()
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)

	conn, err := postgres.Connect(ctx, cfg.Database.URL, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	if cfg.Database.Migrate {
		log.Info("checking database migrations...")
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}
	return conn, nil
}

func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Cache, error) {
	redisCfg := redis.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout
	return redis.NewCache(ctx, redisCfg)
}

func clientConfig(cfg *config.Config, log *slog.Logger) pagela.ClientConfig {
	c := pagela.DefaultClientConfig(cfg.API.BaseURL)
	c.Token = cfg.API.Token
	c.Timeout = cfg.API.RequestTimeout
	c.RateLimit = ratelimit.Config{
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		BurstSize:         cfg.API.Burst,
		MinInterval:       cfg.API.MinInterval,
		WaitTimeout:       ratelimit.DefaultConfig().WaitTimeout,
	}
	c.PageSize = cfg.API.PageSize
	c.MaxPages = cfg.API.MaxPages
	c.PageDelay = cfg.API.PageDelay
	c.Location = cfg.App.Location
	c.Logger = log
	c.Debug = cfg.App.Debug
	return c
}

func printHistory(ctx context.Context, history *postgres.RunRepository, cfg *config.Config, limit int, log *slog.Logger) error {
	year := cfg.Reconcile.Year
	if year == 0 {
		year = time.Now().In(cfg.App.Location).Year()
	}

	runs, err := history.Recent(ctx, year, limit)
	if err != nil {
		return fmt.Errorf("failed to read run history: %w", err)
	}
	if len(runs) == 0 {
		log.Info("no runs recorded", logger.Year(year))
		return nil
	}

	for _, r := range runs {
		attrs := r.LogAttrs()
		if r.Failure != "" {
			attrs = append(attrs, slog.String("failure", r.Failure))
		}
		log.Info("recorded run", attrs...)
	}
	return nil
}
