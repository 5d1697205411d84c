package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/verdant-game/verdant/pkg/api"
	"github.com/verdant-game/verdant/pkg/auth"
	"github.com/verdant-game/verdant/pkg/broadcast"
	"github.com/verdant-game/verdant/pkg/catalog"
	"github.com/verdant-game/verdant/pkg/config"
	"github.com/verdant-game/verdant/pkg/ledger"
	"github.com/verdant-game/verdant/pkg/log"
	"github.com/verdant-game/verdant/pkg/network"
	"github.com/verdant-game/verdant/pkg/presence"
	"github.com/verdant-game/verdant/pkg/repositories"
	"github.com/verdant-game/verdant/pkg/session"
	"github.com/verdant-game/verdant/pkg/version"
	"github.com/verdant-game/verdant/pkg/workers"
)

const (
	saveChannelSize  = 256
	saveLoopInterval = 10 * time.Second
)

func main() {
	wsPort := flag.Int("ws-port", 8889, "WebSocket port to listen on")
	apiPort := flag.Int("api-port", 8888, "API port to listen on")
	logLevel := flag.String("log-level", "info", "Log level")
	migrationsDir := flag.String("migrations", "migrations", "Path to the migrations directory")
	certFile := flag.String("cert-file", "", "TLS certificate file")
	keyFile := flag.String("key-file", "", "TLS key file")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting server version %s", version.Get())

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	repository := newRepository(ctx, cfg.DatabaseURL, *migrationsDir)
	defer repository.Close(context.Background())

	saveTileChan := make(chan workers.SaveTileRequest, saveChannelSize)
	savePlayerChan := make(chan workers.SavePlayerPositionRequest, saveChannelSize)
	saveChatMessageChan := make(chan workers.SaveChatMessageRequest, saveChannelSize)
	logActionChan := make(chan workers.LogActionRequest, saveChannelSize)

	registry := presence.NewRegistry()

	saveWorker := workers.NewSaveWorker(workers.NewSaveWorkerOptions{
		Repository:          repository,
		Registry:            registry,
		SaveTileChan:        saveTileChan,
		SavePlayerChan:      savePlayerChan,
		SaveChatMessageChan: saveChatMessageChan,
		LogActionChan:       logActionChan,
		Interval:            saveLoopInterval,
	})
	go saveWorker.Start(ctx)

	actionCatalog := catalog.Default()

	tileLedger := ledger.NewLedger(ledger.NewLedgerOptions{
		Catalog:      actionCatalog,
		Repository:   repository,
		SaveTileChan: saveTileChan,
	})
	if err := tileLedger.LoadAll(ctx); err != nil {
		panic(fmt.Sprintf("Failed to load tiles: %v", err))
	}

	broadcaster := broadcast.NewBroadcaster()
	tokens := auth.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTExpiry)

	sessionManager := session.NewManager(session.NewManagerOptions{
		Registry:            registry,
		Ledger:              tileLedger,
		Broadcaster:         broadcaster,
		Catalog:             actionCatalog,
		Tokens:              tokens,
		Repository:          repository,
		SavePlayerChan:      savePlayerChan,
		SaveChatMessageChan: saveChatMessageChan,
		LogActionChan:       logActionChan,
	})

	var apiTLS *api.TLSConfig
	var wsTLS *network.TLSConfig
	if *certFile != "" && *keyFile != "" {
		apiTLS = &api.TLSConfig{CertFile: *certFile, KeyFile: *keyFile}
		wsTLS = &network.TLSConfig{CertFile: *certFile, KeyFile: *keyFile}
	}

	apiServer := api.NewAPIServer(api.NewAPIServerOptions{
		Port:           *apiPort,
		TLS:            apiTLS,
		CORSOrigin:     cfg.CORSOrigin,
		Tokens:         tokens,
		Repository:     repository,
		Catalog:        actionCatalog,
		Registry:       registry,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		AuthRateRPS:    cfg.AuthRateRPS,
		AuthRateBurst:  cfg.AuthRateBurst,
	})
	go apiServer.Start()

	wsServer := network.NewWSServer(network.NewWSServerOptions{
		Port:           *wsPort,
		TLS:            wsTLS,
		OriginPatterns: originPatterns(cfg.CORSOrigin),
		SessionManager: sessionManager,
	})
	wsServer.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server: %v", err)
	}
}

func newRepository(ctx context.Context, databaseURL string, migrationsDir string) repositories.Repository {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		repository, err := repositories.NewSQLiteRepository(ctx, path, filepath.Join(migrationsDir, "sqlite"))
		if err != nil {
			panic(fmt.Sprintf("Failed to open sqlite repository: %v", err))
		}
		return repository
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		repository, err := repositories.NewPostgresRepository(ctx, databaseURL, filepath.Join(migrationsDir, "postgres"))
		if err != nil {
			panic(fmt.Sprintf("Failed to open postgres repository: %v", err))
		}
		return repository
	default:
		panic(fmt.Sprintf("Unsupported database URL: %s", databaseURL))
	}
}

// originPatterns derives WebSocket origin patterns from the configured
// CORS origin.
func originPatterns(corsOrigin string) []string {
	if corsOrigin == "*" {
		return []string{"*"}
	}
	u, err := url.Parse(corsOrigin)
	if err != nil || u.Host == "" {
		return []string{corsOrigin}
	}
	return []string{u.Host}
}
