/*
Copyright 2025 Altaira Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command chatserver runs the vaultchat Realtime Session Gateway: it
// serves the WebSocket transport at /ws, the auth HTTP surface under
// /auth, health probes, and Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/altairalabs/vaultchat/internal/auth"
	"github.com/altairalabs/vaultchat/internal/chat"
	"github.com/altairalabs/vaultchat/internal/config"
	"github.com/altairalabs/vaultchat/internal/gateway"
	"github.com/altairalabs/vaultchat/internal/httpapi"
	"github.com/altairalabs/vaultchat/internal/store"
	"github.com/altairalabs/vaultchat/internal/store/postgres"
	"github.com/altairalabs/vaultchat/pkg/logging"
	"github.com/altairalabs/vaultchat/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	log, syncLog, err := logging.NewLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer syncLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := initPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := runMigrations(cfg.DatabaseURL, log); err != nil {
		return err
	}

	provider := postgres.NewFromPool(pool)
	defer provider.Close()

	var s store.Store = provider
	engine := chat.NewEngine(s)
	codec := auth.NewJWTCodec([]byte(cfg.JWTSecret))
	hasher := auth.NewBcryptHasher()
	verifier := auth.NewVerifier(codec, storeUserLookup{s})

	gwMetrics := metrics.NewGatewayMetrics()
	gw := gateway.NewServer(gateway.DefaultServerConfig(), verifier, engine, log).WithMetrics(gwMetrics)

	relay, closeRelay := initEventRelay(ctx, cfg, gw.Dispatcher(), log)
	if relay != nil {
		gw.Dispatcher().SetRelay(relay)
		defer closeRelay()
	}

	authHandler := httpapi.NewHandler(s, codec, hasher, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, log)

	apiMux := http.NewServeMux()
	apiMux.Handle("/ws", gw)
	apiMux.HandleFunc("/auth/register", authHandler.Register)
	apiMux.HandleFunc("/auth/login", authHandler.Login)
	apiMux.HandleFunc("/auth/refresh", authHandler.Refresh)
	apiMux.HandleFunc("/auth/logout", authHandler.Logout)

	apiSrv := &http.Server{Addr: ":" + cfg.Port, Handler: apiMux}
	healthSrv := newHealthServer(":8081", s)
	metricsSrv := &http.Server{Addr: ":9090", Handler: promhttp.Handler()}

	startHTTPServer(log, "chat API", apiSrv.Addr, apiSrv)
	startHTTPServer(log, "health", healthSrv.Addr, healthSrv)
	startHTTPServer(log, "metrics", metricsSrv.Addr, metricsSrv)

	log.Info("chatserver ready", "api", apiSrv.Addr, "health", healthSrv.Addr, "metrics", metricsSrv.Addr)

	<-ctx.Done()
	log.Info("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	_ = gw.Shutdown(shutCtx)
	for _, srv := range []*http.Server{apiSrv, healthSrv, metricsSrv} {
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Error(err, "server shutdown error", "addr", srv.Addr)
		}
	}
	return nil
}

func startHTTPServer(log logr.Logger, name, addr string, srv *http.Server) {
	go func() {
		log.Info("starting server", "server", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "server error", "server", name)
		}
	}()
}

func initPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres connection string: %w", err)
	}
	poolCfg.MaxConns = cfg.PGMaxConns
	poolCfg.MinConns = cfg.PGMinConns
	poolCfg.MaxConnLifetime = cfg.PGMaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.PGMaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	return pool, nil
}

func runMigrations(connString string, log logr.Logger) error {
	migrator, err := postgres.NewMigrator(connString, log)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer migrator.Close()
	return migrator.Up()
}

// initEventRelay wires the optional cross-process EventRelay when
// REDIS_ADDRS is configured. It returns a nil relay and a no-op closer when
// Redis isn't configured, so callers never need to branch on whether relay
// is in use beyond the initial nil check.
func initEventRelay(ctx context.Context, cfg *config.Config, dispatcher *gateway.Dispatcher, log logr.Logger) (gateway.EventRelay, func()) {
	if len(cfg.RedisAddrs) == 0 {
		return nil, func() {}
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: cfg.RedisAddrs})
	relay := gateway.NewRedisRelay(client, uuid.NewString(), log)

	relayCtx, cancel := context.WithCancel(ctx)
	go relay.Run(relayCtx, dispatcher)

	return relay, func() {
		cancel()
		_ = relay.Close()
	}
}

// storeUserLookup adapts store.Store to auth.UserLookup, converting
// *store.User to *auth.Identity so internal/auth never imports
// internal/store.
type storeUserLookup struct {
	s store.Store
}

func (l storeUserLookup) GetUserByID(ctx context.Context, id int64) (*auth.Identity, error) {
	user, err := l.s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &auth.Identity{ID: user.ID, Username: user.Username, Active: user.Active}, nil
}

// newHealthServer serves /healthz (liveness, always 200) and /readyz
// (readiness, pings the store).
func newHealthServer(addr string, s store.Store) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{Addr: addr, Handler: mux}
}
