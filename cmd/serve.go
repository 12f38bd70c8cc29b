package cmd

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/api"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/config"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/maintenance"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/mediaprobe"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/mediastate"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/pipeline"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/providers"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/providers/usagegate"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/requests"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/scheduler"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/settingsstore"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/signalbus"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/store"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/worker"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/workerpool"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API, scheduler and translation worker in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the translation dispatcher, headless, without the dashboard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe2(cmd.Context(), false)
	},
}

func runServe(ctx context.Context) error {
	return runServe2(ctx, true)
}

// runServe2 boots the shared collaborator graph; withAPI controls whether
// the dashboard HTTP server is started, so `worker` can run as a
// translation-only process alongside a separately deployed `serve`.
func runServe2(parentCtx context.Context, withAPI bool) error {
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.DBConnection, log)
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	settings := settingsstore.New(st, rdb, log)
	defer settings.Close()
	if err := settings.Warm(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to warm settings cache")
	}

	bus := signalbus.New()
	pool := workerpool.New(cfg.MaxConcurrentJobs, log)
	reqSvc := requests.New(st, pool, bus, log)

	gate := usagegate.New(rdb, log)
	registry := buildProviderRegistry(log)
	baseProvider, _ := registry.Get("")

	maxRetries := settings.IntOr(ctx, settingsstore.KeyMaxRetries, 3)
	retryDelayMs := settings.IntOr(ctx, settingsstore.KeyRetryDelay, 1000)
	retryDelay := time.Duration(retryDelayMs) * time.Millisecond
	retriedProvider := providers.WithRetry(baseProvider, maxRetries, retryDelay, retryDelay*10)
	activeProvider := usagegate.NewGatedProvider(retriedProvider, gate, defaultModelLimits)

	prober := mediaprobe.NewProber("ffprobe")
	extractor := mediaprobe.NewExtractor("ffmpeg")
	pl := pipeline.New(prober, extractor, pipeline.OSFileIO{}, log)

	pipelineSettings := func() pipeline.Settings {
		return pipeline.Settings{
			MaxBatchSize:               settings.IntOr(ctx, settingsstore.KeyMaxBatchSize, 50),
			BatchRetryMode:             settings.GetOr(ctx, settingsstore.KeyBatchRetryMode, pipeline.BatchRetryDeferred),
			RepairContextRadius:        settings.IntOr(ctx, settingsstore.KeyRepairContextRadius, 2),
			RepairMaxRetries:           settings.IntOr(ctx, settingsstore.KeyRepairMaxRetries, 2),
			MaxBatchSplitAttempts:      settings.IntOr(ctx, settingsstore.KeyMaxBatchSplitAttempts, 3),
			UseSubtitleTagging:         settings.BoolOr(ctx, settingsstore.KeyUseSubtitleTagging, true),
			SubtitleTag:                settings.GetOr(ctx, settingsstore.KeySubtitleTag, "AUTO"),
			IntegrityValidationEnabled: settings.BoolOr(ctx, settingsstore.KeyIntegrityValidationOn, true),
		}
	}

	dispatcher := worker.New(st, reqSvc, pool, pl, activeProvider, pipelineSettings, requests.PoolKey, log)
	go dispatcher.Run(ctx)

	sidecar := mediastate.NewFSSidecarChecker()
	stateEngine := mediastate.New(st, sidecar)
	langConfig := func() mediastate.LanguageConfig {
		ls, err := settings.LanguageSettings(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to load language settings")
		}
		return mediastate.LanguageConfig{
			Version:         ls.Version,
			SourceLanguages: ls.SourceLanguages,
			TargetLanguages: ls.TargetLanguages,
			IgnoreCaptions:  ls.IgnoreCaptions,
		}
	}

	integritySweeper := maintenance.NewIntegritySweeper(st, pipeline.OSFileIO{}, integrityMinRatio, log)
	orphanCleaner := maintenance.NewOrphanCleaner(st, pipeline.OSFileIO{}, maintenance.OSReader{},
		settings.GetOr(ctx, settingsstore.KeySubtitleTag, "AUTO"), noScanDirs, log)

	sched := scheduler.New(scheduler.Config{
		Indexer:    noopIndexer{},
		Requests:   reqSvc,
		MediaState: stateEngine,
		Integrity:  integritySweeper,
		Cleanup:    orphanCleaner,
		LangConfig: langConfig,
		SweepLimit: 50,
		Log:        log,
	})
	if err := sched.Start(defaultSchedules()); err != nil {
		return err
	}
	defer sched.Stop(ctx)

	if withAPI {
		host, portStr, err := net.SplitHostPort(cfg.ListenAddr)
		if err != nil {
			return err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return err
		}
		srv, err := api.New(&api.Config{
			Host:              host,
			Port:              port,
			ReadTimeout:       15 * time.Second,
			DashboardUser:     cfg.DashboardUser,
			DashboardPassword: cfg.DashboardPassword,
		}, api.Deps{
			Requests:  reqSvc,
			Media:     st,
			State:     stateEngine,
			Integrity: integritySweeper,
			Usage:     usageAdapter{gate: gate, modelLimits: defaultModelLimits},
			Bus:       bus,
		}, log)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Shutdown()
		log.Info().Int("port", srv.GetPort()).Msg("dashboard API listening")
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return nil
}

const integrityMinRatio = 0.5

// noScanDirs is a placeholder for the set of library roots the orphan
// cleanup sweep walks; the concrete media-library root list is owned by
// the external Media Indexer and is not yet wired to a config source.
func noScanDirs(ctx context.Context) ([]string, error) { return nil, nil }

var defaultModelLimits = usagegate.Limits{PlanRequestsPerDay: 1000, RequestBuffer: 10}

// usageAdapter binds usagegate.Gate.Snapshot's limits parameter to a
// fixed configuration so it satisfies api.ProviderUsage's narrower
// two-argument shape.
type usageAdapter struct {
	gate        *usagegate.Gate
	modelLimits usagegate.Limits
}

func (a usageAdapter) Snapshot(ctx context.Context, modelID string) (int, int, bool, error) {
	return a.gate.Snapshot(ctx, modelID, a.modelLimits)
}

// noopIndexer stands in for the external Media Indexer collaborator
// (spec.md §1's out-of-scope upstream library manager integration); the
// scheduler's index jobs are wired end to end but have nothing to call
// until that integration exists.
type noopIndexer struct{}

func (noopIndexer) IndexMovies(ctx context.Context) error { return nil }
func (noopIndexer) IndexShows(ctx context.Context) error  { return nil }

func defaultSchedules() scheduler.Schedules {
	return scheduler.Schedules{
		IndexMovies:      "0 */15 * * * *",
		IndexShows:       "0 */15 * * * *",
		TranslationSweep: "0 */5 * * * *",
		IntegritySweep:   "0 0 */6 * * *",
		OrphanCleanup:    "0 0 3 * * *",
	}
}

// buildProviderRegistry registers every backend whose API key is present
// in the environment, following the teacher's pattern of skipping a
// provider entirely rather than failing startup when a key is absent.
func buildProviderRegistry(log zerolog.Logger) *providers.Registry {
	registry := providers.NewRegistry()

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		registry.Register(providers.NewOpenAIBackend(key, os.Getenv("OPENAI_MODEL")))
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		registry.Register(providers.NewOpenRouterBackend(key, os.Getenv("OPENROUTER_MODEL")))
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if backend, err := providers.NewGeminiBackend(context.Background(), key, os.Getenv("GEMINI_MODEL")); err != nil {
			log.Warn().Err(err).Msg("failed to initialize gemini backend")
		} else {
			registry.Register(backend)
		}
	}
	return registry
}
