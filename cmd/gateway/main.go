// Command gateway runs the OpenAI Assistants-compatible REST gateway: it
// loads configuration, wires the Store backend and provider adapters, and
// serves the Gateway's HTTP surface with graceful shutdown, in the same
// "build everything, then hand an http.Server a context-cancelable
// goroutine" shape as the teacher's example/cmd/assistant server command.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/eL1fe/assistants-gateway/internal/config"
	"github.com/eL1fe/assistants-gateway/internal/engine"
	"github.com/eL1fe/assistants-gateway/internal/gateway"
	"github.com/eL1fe/assistants-gateway/internal/logging"
	"github.com/eL1fe/assistants-gateway/internal/store"
	"github.com/eL1fe/assistants-gateway/internal/store/cache"
	"github.com/eL1fe/assistants-gateway/internal/store/inmem"
	"github.com/eL1fe/assistants-gateway/internal/store/rediskv"
	"github.com/eL1fe/assistants-gateway/internal/store/sqlstore"

	redisclient "github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())

	st := buildStore(cfg)

	res, err := buildResolver(ctx, cfg.Providers)
	if err != nil {
		log.Fatal().Err(err).Msg("gateway_provider_init_failed")
	}

	eng := engine.New(st, res, engine.WithMaxIterations(cfg.MaxIterations), engine.WithRunTimeout(cfg.RunTimeout))
	gw := gateway.New(st, eng, gateway.WithAPIKeys(cfg.APIKeys), gateway.WithModelLister(res))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 60 * time.Second,
	}

	// Channel used by both the signal handler and the server goroutine to
	// notify the main goroutine when to stop.
	errc := make(chan error, 1)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", cfg.ListenAddr).Msg("gateway_listening")
		errc <- srv.ListenAndServe()
	}()

	log.Info().Err(<-errc).Msg("gateway_exiting")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway_shutdown_failed")
	}

	wg.Wait()
}

// buildStore wires the configured Store backend, wrapped in the
// read-through/write-through cache every backend shares, per SPEC_FULL.md
// §4.1's "pluggable backends behind a read-through cache."
func buildStore(cfg config.Config) store.Store {
	var backend store.Store
	switch cfg.StoreBackend {
	case config.StoreRedis:
		rdb := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		backend = rediskv.New(rediskv.NewRedisClient(rdb))
	case config.StoreSQL:
		backend = sqlstore.New(cfg.SQLDSN)
	default:
		backend = inmem.New()
	}
	return cache.New(backend)
}
