package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/sblumenf/podcastknowledge-sub007/internal/awsruntime"
	"github.com/sblumenf/podcastknowledge-sub007/internal/checkpoint"
	"github.com/sblumenf/podcastknowledge-sub007/internal/config"
	"github.com/sblumenf/podcastknowledge-sub007/internal/episode"
	"github.com/sblumenf/podcastknowledge-sub007/internal/extraction"
	"github.com/sblumenf/podcastknowledge-sub007/internal/graph"
	"github.com/sblumenf/podcastknowledge-sub007/internal/keymanager"
	"github.com/sblumenf/podcastknowledge-sub007/internal/llm"
	"github.com/sblumenf/podcastknowledge-sub007/internal/metrics"
	"github.com/sblumenf/podcastknowledge-sub007/internal/observability"
	"github.com/sblumenf/podcastknowledge-sub007/internal/orchestrator"
	"github.com/sblumenf/podcastknowledge-sub007/internal/progress"
	"github.com/sblumenf/podcastknowledge-sub007/internal/resilience"
	"github.com/sblumenf/podcastknowledge-sub007/internal/speaker"
	"github.com/sblumenf/podcastknowledge-sub007/internal/storage/blobstore"
	"github.com/sblumenf/podcastknowledge-sub007/internal/storage/dynamograph"
)

// app bundles every collaborator built for one CLI invocation, so command
// handlers can reach whichever piece they need (Driver for run/resume,
// Keys for "keys status", Checkpoints for "checkpoints gc", Metrics for
// "metrics show") and Close tears all of it down in one call.
type app struct {
	Logger      *slog.Logger
	Cfg         config.Config
	Podcasts    []episode.Podcast
	Keys        *keymanager.Manager
	Checkpoints *checkpoint.Manager
	Metrics     *metrics.Registry
	Audit       *metrics.AuditLog
	Store       graph.Store
	driver      *orchestrator.Driver
	tracerClose func(context.Context) error
}

// buildApp loads configuration from the environment and constructs every
// collaborator the orchestrator needs: AWS-backed secrets, then config,
// then the domain collaborators, then the driver itself.
func buildApp(ctx context.Context) (*app, error) {
	logger := observability.InitLogger()

	usesAWS := os.Getenv("AWS_REGION") != "" || os.Getenv("SECRETS_PREFIX") != "" ||
		os.Getenv("CHECKPOINT_S3_BUCKET") != "" || os.Getenv("FLEET_DYNAMODB_TABLE") != ""
	var awsCfg aws.Config
	if usesAWS {
		var err error
		awsCfg, err = awsruntime.Load(ctx, awsruntime.Options{Region: os.Getenv("AWS_REGION")})
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		if prefix := os.Getenv("SECRETS_PREFIX"); prefix != "" {
			if err := config.LoadSecrets(ctx, awsCfg, prefix, logger); err != nil {
				return nil, fmt.Errorf("load secrets: %w", err)
			}
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var podcasts []episode.Podcast
	if cfg.Mode == config.ModeMulti {
		reg, err := config.LoadRegistry(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		podcasts = reg.EnabledPodcasts()
	} else {
		podcasts = []episode.Podcast{defaultPodcast()}
	}

	tp, err := observability.InitTracer(ctx, "podcastcore", Version)
	var tracerClose func(context.Context) error
	if err != nil {
		logger.Warn("tracing disabled: failed to init OTLP exporter", "error", err)
	} else {
		tracerClose = tp.Shutdown
	}

	keyStatePath := filepath.Join(cfg.DataDir, "keystate.json")
	limits := map[string]keymanager.ModelLimits{
		"default": {RPM: 15, TPM: 1_000_000, RPD: 1500},
	}
	keys, err := keymanager.New(cfg.GeminiAPIKeys, limits, keyStatePath)
	if err != nil {
		return nil, fmt.Errorf("build key manager: %w", err)
	}

	checkpointRoot := filepath.Join(cfg.DataDir, "checkpoints")
	checkpoints, err := checkpoint.New(checkpointRoot, envBool("CHECKPOINT_COMPRESS", true), envBool("CHECKPOINT_DISTRIBUTED", false))
	if err != nil {
		return nil, fmt.Errorf("build checkpoint manager: %w", err)
	}
	if bucket := os.Getenv("CHECKPOINT_S3_BUCKET"); bucket != "" {
		checkpoints.Mirror = blobstore.NewStore(s3.NewFromConfig(awsCfg), bucket, os.Getenv("CHECKPOINT_S3_PREFIX"))
	}

	client, clientModel := buildLLMClient()
	cache := llm.NewCacheManager()
	extractCfg := extraction.DefaultConfig()
	if mode := os.Getenv("EXTRACTION_MODE"); mode != "" {
		extractCfg.Mode = extraction.Mode(mode)
	}
	extractor := extraction.New(client, cache, extractCfg)

	speakerClient, _ := buildLLMClient()
	speakerCache := speaker.NewPodcastCache()
	speakers := speaker.New(speakerClient, speakerCache)
	speakers.Keys = keys

	store, err := buildStore(ctx, logger, podcasts)
	if err != nil {
		return nil, fmt.Errorf("build graph store: %w", err)
	}

	metricsPath := filepath.Join(cfg.DataDir, "metrics.json")
	metricsRegistry := metrics.NewRegistry(metricsPath, time.Duration(cfg.MetricsInterval)*time.Second)
	metricsRegistry.Start()

	auditPath := filepath.Join(cfg.DataDir, "audit.log")
	audit, err := metrics.OpenAuditLog(auditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	audit.Store = store
	if table := os.Getenv("FLEET_DYNAMODB_TABLE"); table != "" {
		fleet := dynamograph.NewStore(dynamodb.NewFromConfig(awsCfg), table)
		audit.Fleet = fleet
		go mirrorKeyStateLoop(ctx, fleet, keys, envOr("FLEET_ID", "default"), logger)
	}

	breaker := resilience.NewCircuitBreaker(5, 30*time.Second)
	limiter := resilience.NewTokenBucket(0.25, 2) // ~15 req/min burst 2, matches "default" RPM above
	retry := resilience.RetryConfig{
		MaxAttempts: 5,
		Backoff: resilience.BackoffConfig{
			Strategy:  resilience.StrategyExponential,
			BaseDelay: time.Second,
			MaxDelay:  30 * time.Second,
			Jitter:    true,
		},
		RetryableSubstrings: []string{"rate limit", "429", "503", "timeout", "unavailable"},
	}

	concurrency := flagConcurrency
	if concurrency <= 0 {
		concurrency = envInt("PODCAST_CONCURRENCY", 4)
	}

	var onProgress progress.Callback
	if !flagVerbose {
		r := progress.NewBarRenderer(os.Stdout)
		onProgress = r.Handle
	} else {
		onProgress = func(e progress.Event) {
			logger.Info("stage transition", "episode_id", e.EpisodeID, "stage", string(e.Stage), "message", e.Message)
		}
	}

	driver := orchestrator.New(orchestrator.Config{
		Checkpoints:     checkpoints,
		Keys:            keys,
		Extractor:       extractor,
		Speakers:        speakers,
		Store:           store,
		Metrics:         metricsRegistry,
		Audit:           audit,
		Rollup:          metrics.NewSpeakerRollup(),
		Logger:          logger,
		InboxDir:        cfg.VTTInputDir,
		ProcessedDir:    cfg.ProcessedDir,
		Concurrency:     concurrency,
		QueueDepth:      envInt("PODCAST_QUEUE_DEPTH", 64),
		SkipErrors:      envBool("PODCAST_SKIP_ERRORS", true),
		ExtractionModel: clientModel,
		ExtractionBatch: envInt("EXTRACTION_BATCH_SIZE", 10),
		CacheMinSize:    extractCfg.MinTranscriptSizeForCache,
		Breaker:         breaker,
		Limiter:         limiter,
		Retry:           retry,
		OnProgress:      onProgress,
	})

	return &app{
		Logger:      logger,
		Cfg:         cfg,
		Podcasts:    podcasts,
		Keys:        keys,
		Checkpoints: checkpoints,
		Metrics:     metricsRegistry,
		Audit:       audit,
		Store:       store,
		driver:      driver,
		tracerClose: tracerClose,
	}, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.driver.Close(ctx); err != nil {
		a.Logger.Error("shutdown", "error", err)
	}
	if a.tracerClose != nil {
		if err := a.tracerClose(ctx); err != nil {
			a.Logger.Error("tracer shutdown", "error", err)
		}
	}
}

// buildLLMClient picks a provider from PODCAST_LLM_PROVIDER (default
// "gemini", matching the Gemini-key-centric config.Config this core
// loads by default), falling back to a mock client when
// PODCAST_LLM_PROVIDER=mock so the pipeline can run in tests and demos
// without a live key.
func buildLLMClient() (llm.Client, string) {
	model := envOr("PODCAST_LLM_MODEL", "gemini-1.5-flash")
	switch envOr("PODCAST_LLM_PROVIDER", "gemini") {
	case "anthropic":
		return llm.NewAnthropicClient(), envOr("PODCAST_LLM_MODEL", "claude-haiku-4-5")
	case "mock":
		return llm.NewMockClient(), model
	default:
		return llm.NewGeminiClient(), model
	}
}

// buildStore constructs the graph store named by GRAPH_SCHEMA_MODE
// ("fixed", "schemaless", or "mixed" for CompatibleStore dual-write
// migration mode). NEO4J_URI must be reachable; there is no in-memory
// fallback since every operation downstream assumes a real
// Cypher-speaking backend.
func buildStore(ctx context.Context, logger *slog.Logger, podcasts []episode.Podcast) (graph.Store, error) {
	uri := envOr("NEO4J_URI", "neo4j://localhost:7687")
	user := os.Getenv("NEO4J_USER")
	pass := os.Getenv("NEO4J_PASSWORD")

	var auth neo4j.AuthToken
	if user != "" {
		auth = neo4j.BasicAuth(user, pass, "")
	} else {
		auth = neo4j.NoAuth()
	}

	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("connect neo4j %s: %w", uri, err)
	}
	routing := graph.NewRouting(driver)
	for _, p := range podcasts {
		dbName := p.DatabaseName
		if dbName == "" {
			dbName = "neo4j"
		}
		routing.Register(p.ID, dbName)
	}

	mode := graph.SchemaMode(envOr("GRAPH_SCHEMA_MODE", string(graph.SchemaModeFixed)))
	cfg := graph.CompatibleConfig{
		SchemaMode:         mode,
		MigrationMode:      mode == graph.SchemaModeMixed,
		PreferSchemaless:   envBool("GRAPH_PREFER_SCHEMALESS", false),
		UseSchemalessQuery: envBool("GRAPH_PREFER_SCHEMALESS", false),
		ValidateDualWrites: envBool("GRAPH_VALIDATE_DUAL_WRITES", true),
	}
	return graph.NewCompatibleStore(routing, cfg, logger), nil
}

func envBool(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	return v == "1" || v == "true" || v == "yes"
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}

// mirrorKeyStateLoop periodically fans each local key's rotation state
// out to the shared DynamoDB table, so other hosts in the same fleet see
// roughly-current quota state without contending on the local state
// file. Best-effort: a failed PutKeyState is logged and retried next
// tick rather than treated as fatal.
func mirrorKeyStateLoop(ctx context.Context, fleet *dynamograph.Store, keys *keymanager.Manager, fleetID string, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ks := range keys.Snapshot() {
				if err := fleet.PutKeyState(ctx, fleetID, ks.Index, ks.KeyName, string(ks.Status), ks.ConsecutiveFailures, ks.RequestsToday, ks.TokensToday); err != nil {
					logger.Warn("mirror key state", "index", ks.Index, "error", err)
				}
			}
		}
	}
}

// setSkipDiscovery gives the run/resume commands a writable handle to the
// built Driver's SkipDiscovery flag without exposing the rest of
// orchestrator.Config.
func (a *app) setSkipDiscovery(skip bool) {
	a.driver.SetSkipDiscovery(skip)
}

func (a *app) Driver() *orchestrator.Driver { return a.driver }
