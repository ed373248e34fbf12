package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/baalimago/go_away_boilerplate/pkg/misc"
	"github.com/rs/zerolog"

	"chatd/internal/budget"
	"chatd/internal/common/fsutil"
	"chatd/internal/config"
	"chatd/internal/convstore"
	"chatd/internal/download"
	"chatd/internal/httpapi"
	"chatd/internal/modelcache"
	"chatd/internal/registry"
	"chatd/internal/retrieval"
	"chatd/internal/session"
	"chatd/internal/worker"
	"chatd/pkg/types"
)

const watchDebounce = 500 * time.Millisecond

// runServe wires the daemon together and blocks until SIGINT/SIGTERM or a
// server error. Teardown order matters: cancel the base context first so
// streaming handlers unwind, then drain the HTTP server, then close the
// controller, which owns the workers, the retriever and the store.
func runServe(cfg config.Config) error {
	level := cfg.LogLevel
	if misc.Truthy(os.Getenv("CHATD_DEBUG")) {
		level = "debug"
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(zerologLevel(level)).With().Timestamp().Logger()
	httpapi.SetLogger(logger)

	modelsDir, err := fsutil.ExpandHome(cfg.ModelsDir)
	if err != nil {
		return fmt.Errorf("models dir: %w", err)
	}
	dataDir, err := fsutil.ExpandHome(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	models, err := registry.LoadDir(modelsDir)
	if err != nil {
		return fmt.Errorf("scan models: %w", err)
	}
	cat := newCatalog(models)
	watcher, err := registry.NewWatcher(modelsDir, watchDebounce, cat.replace)
	if err != nil {
		log.Printf("chatd event=watch_unavailable dir=%s err=%v", modelsDir, err)
	} else {
		defer watcher.Close()
	}

	workerBin, err := resolveWorkerBin(cfg.WorkerBin)
	if err != nil {
		return err
	}

	cache := modelcache.Open(filepath.Join(dataDir, cfg.CacheFile))
	chatClient := worker.NewClient(workerBin, "chat")
	loader := worker.NewLoader(chatClient, cache, worker.ProbeConfig{
		Start:      cfg.ProbeStart,
		Step:       cfg.ProbeStep,
		HalveFloor: cfg.ProbeHalveFloor,
	}, cfg.LoadTimeout())

	var embedClient *worker.Client
	if cfg.EmbedModel != "" {
		embedClient = worker.NewClient(workerBin, "embed")
	}
	closeClients := func() {
		_ = chatClient.Close()
		if embedClient != nil {
			_ = embedClient.Close()
		}
	}

	store, err := convstore.Open(storeConfig(cfg, dataDir))
	if err != nil {
		closeClients()
		return fmt.Errorf("open conversation store: %w", err)
	}

	var retr retrieval.Retriever
	if cfg.QdrantAddr != "" && embedClient != nil {
		q, err := retrieval.NewQdrant(retrieval.QdrantConfig{
			Addr:         cfg.QdrantAddr,
			Collection:   qdrantCollection(cfg),
			EmbedTimeout: cfg.EmbedTimeout(),
		}, embedClient)
		if err != nil {
			log.Printf("chatd event=retrieval_disabled err=%v", err)
		} else {
			retr = q
		}
	} else if cfg.QdrantAddr != "" {
		log.Printf("chatd event=retrieval_disabled err=%q", "embed model not configured")
	}

	// The controller takes ownership of the clients, the retriever and the
	// store; after this point Close tears all of them down.
	ctrl, err := session.New(session.Deps{
		Client:      chatClient,
		EmbedClient: embedClient,
		Loader:      loader,
		Retriever:   retr,
		Store:       store,
		Downloader:  download.New(modelsDir),
	}, session.Config{
		SeedMessages: seedMessages(cfg),
		CtxSize:      cfg.CtxSize,
		LockTimeout:  cfg.LockTimeout(),
		CleanupWait:  cfg.CleanupWait(),
		LoadTimeout:  cfg.LoadTimeout(),
		RetrieveTopK: cfg.RetrievalTopK,
		Params:       genParams(cfg),
		Budget:       budget.Config{Threshold: cfg.PruneThreshold, Target: cfg.PruneTarget},
	})
	if err != nil {
		closeClients()
		if retr != nil {
			_ = retr.Close()
		}
		_ = store.Close()
		return err
	}

	baseCtx, stopBase := context.WithCancel(context.Background())
	defer stopBase()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetDefaultGPULayers(cfg.GPULayers)
	httpapi.SetCORSOptions(len(cfg.CORSAllowedOrigins) > 0,
		cfg.CORSAllowedOrigins,
		[]string{"GET", "POST", "OPTIONS"},
		corsHeaders(cfg))

	svc := &service{Controller: ctrl, catalog: cat}
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(svc)}

	startupLoads(baseCtx, ctrl, embedClient, cat, cfg)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("chatd listening on %s (models dir: %s)", cfg.Addr, modelsDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	var srvErr error
	select {
	case srvErr = <-errCh:
	case s := <-sig:
		log.Printf("chatd event=signal sig=%s", s)
		stopBase()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("chatd event=shutdown err=%v", err)
		}
		cancel()
	}

	if err := ctrl.Close(); err != nil {
		log.Printf("chatd event=close err=%v", err)
	}
	return srvErr
}

// startupLoads kicks off the configured model loads. Both are asynchronous;
// progress reaches clients through /status and /events.
func startupLoads(ctx context.Context, ctrl *session.Controller, embedClient *worker.Client, cat *catalog, cfg config.Config) {
	if cfg.DefaultModel != "" {
		if m, ok := cat.resolve(cfg.DefaultModel); ok {
			if err := ctrl.LoadModel(m.Path, cfg.CtxSize, cfg.GPULayers); err != nil {
				log.Printf("chatd event=startup_load_rejected model=%s err=%v", m.ID, err)
			}
		} else {
			log.Printf("chatd event=startup_load_skipped model=%q", cfg.DefaultModel)
		}
	}
	if embedClient == nil {
		return
	}
	m, ok := cat.resolve(cfg.EmbedModel)
	if !ok {
		log.Printf("chatd event=embed_load_skipped model=%q", cfg.EmbedModel)
		return
	}
	go func() {
		if err := embedClient.LoadEmbed(ctx, m.Path, cfg.LoadTimeout()); err != nil {
			log.Printf("chatd event=embed_load_failed model=%s err=%v", m.ID, err)
			return
		}
		log.Printf("chatd event=embed_loaded model=%s", m.ID)
	}()
}

// resolveWorkerBin locates the worker binary: the explicit setting, then
// chatd-worker next to this executable, then $PATH.
func resolveWorkerBin(explicit string) (string, error) {
	if explicit != "" {
		expanded, err := fsutil.ExpandHome(explicit)
		if err != nil {
			return "", fmt.Errorf("worker bin: %w", err)
		}
		return expanded, nil
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "chatd-worker")
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath("chatd-worker"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("chatd-worker binary not found; set --worker-bin or CHATD_WORKER_BIN")
}

// storeConfig maps the file config onto a conversation store config, filling
// driver-specific path defaults under the data directory. The Redis password
// comes from the environment only, never from a config file.
func storeConfig(cfg config.Config, dataDir string) convstore.Config {
	out := convstore.Config{
		Driver:        cfg.ConvStore,
		Path:          cfg.ConvStorePath,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: os.Getenv("CHATD_REDIS_PASSWORD"),
		RedisDB:       cfg.RedisDB,
		RedisTTL:      time.Duration(cfg.RedisTTLHours) * time.Hour,
	}
	if out.Path == "" {
		switch out.Driver {
		case convstore.DriverSQLite:
			out.Path = filepath.Join(dataDir, "conversations.db")
		default:
			out.Path = filepath.Join(dataDir, "conversations")
		}
	}
	return out
}

func qdrantCollection(cfg config.Config) string {
	if cfg.QdrantCollection != "" {
		return cfg.QdrantCollection
	}
	return "chatd_exchanges"
}

func corsHeaders(cfg config.Config) []string {
	if len(cfg.CORSAllowedHeaders) > 0 {
		return cfg.CORSAllowedHeaders
	}
	return []string{"Accept", "Content-Type", "X-Log-Level"}
}

// seedMessages builds the fresh-conversation seed: the character's system
// prompt plus the optional opening user message replayed by reset.
func seedMessages(cfg config.Config) []types.Message {
	var seed []types.Message
	if cfg.SystemPrompt != "" {
		seed = append(seed, types.Message{Role: types.RoleSystem, Content: cfg.SystemPrompt})
	}
	if cfg.OpeningMessage != "" {
		seed = append(seed, types.Message{Role: types.RoleUser, Content: cfg.OpeningMessage})
	}
	return seed
}

func genParams(cfg config.Config) types.GenParams {
	return types.GenParams{
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
		TopP:          cfg.TopP,
		TopK:          cfg.TopK,
		MinP:          cfg.MinP,
		RepeatPenalty: cfg.RepeatPenalty,
	}
}

func zerologLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "", "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "err":
		return zerolog.ErrorLevel
	case "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
