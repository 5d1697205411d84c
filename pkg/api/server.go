package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/verdant-game/verdant/pkg/api/handlers"
	"github.com/verdant-game/verdant/pkg/api/middleware"
	"github.com/verdant-game/verdant/pkg/auth"
	"github.com/verdant-game/verdant/pkg/catalog"
	"github.com/verdant-game/verdant/pkg/log"
	"github.com/verdant-game/verdant/pkg/presence"
	"github.com/verdant-game/verdant/pkg/repositories"
)

type APIServer struct {
	server *http.Server
	tls    *TLSConfig
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port           int
	TLS            *TLSConfig
	CORSOrigin     string
	Tokens         auth.TokenService
	Repository     repositories.Repository
	Catalog        *catalog.Catalog
	Registry       *presence.Registry
	RateLimitRPS   float64
	RateLimitBurst int
	AuthRateRPS    float64
	AuthRateBurst  int
}

// NewAPIServer creates a new http.Server for handling API requests.
// Auth endpoints carry a stricter per-IP rate limit than the rest.
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	authMiddleware := middleware.NewAuthMiddleware(opts.Tokens, opts.Repository)
	generalLimiter := middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	authLimiter := middleware.NewRateLimiter(opts.AuthRateRPS, opts.AuthRateBurst)

	r := mux.NewRouter()
	r.Use(middleware.NewCORSMiddleware(opts.CORSOrigin))
	r.Use(generalLimiter.Middleware)

	authRouter := r.PathPrefix("/auth").Subrouter()
	authRouter.Use(authLimiter.Middleware)
	authRouter.HandleFunc("/register", handlers.HandleRegister(opts.Repository, opts.Tokens)).Methods(http.MethodPost, http.MethodOptions)
	authRouter.HandleFunc("/login", handlers.HandleLogin(opts.Repository, opts.Tokens)).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/catalog", handlers.HandleGetCatalog(opts.Catalog)).Methods(http.MethodGet, http.MethodOptions)

	protected := r.NewRoute().Subrouter()
	protected.Use(authMiddleware)
	protected.HandleFunc("/players", handlers.HandleListPlayers(opts.Repository)).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/players/{playerID}", handlers.HandleGetPlayer(opts.Repository)).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/players/{playerID}", handlers.HandleUpdatePlayer(opts.Repository)).Methods(http.MethodPut)
	protected.HandleFunc("/players/{playerID}", handlers.HandleDeletePlayer(opts.Repository)).Methods(http.MethodDelete)
	protected.HandleFunc("/players/{playerID}/actions", handlers.HandleListPlayerActions(opts.Repository)).Methods(http.MethodGet, http.MethodOptions)

	protected.HandleFunc("/tiles", handlers.HandleListTiles(opts.Repository)).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/tiles", handlers.HandleCreateTile(opts.Repository)).Methods(http.MethodPost)
	protected.HandleFunc("/tiles/save", handlers.HandleSaveTiles(opts.Repository)).Methods(http.MethodPost, http.MethodOptions)
	protected.HandleFunc("/tiles/block", handlers.HandleBlockTiles(opts.Repository)).Methods(http.MethodPost, http.MethodOptions)
	protected.HandleFunc("/tiles/{tileID}", handlers.HandleGetTile(opts.Repository)).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/tiles/{tileID}", handlers.HandleUpdateTile(opts.Repository)).Methods(http.MethodPut)
	protected.HandleFunc("/tiles/{tileID}", handlers.HandleDeleteTile(opts.Repository)).Methods(http.MethodDelete)
	protected.HandleFunc("/maps/{mapID}/blocked-tiles", handlers.HandleListBlockedTiles(opts.Repository)).Methods(http.MethodGet, http.MethodOptions)

	protected.HandleFunc("/actions", handlers.HandleListActions(opts.Repository)).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/chat/messages", handlers.HandleListChatMessages(opts.Repository)).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/presence", handlers.HandleListPresence(opts.Registry)).Methods(http.MethodGet, http.MethodOptions)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: r,
	}
	return &APIServer{
		server: server,
		tls:    opts.TLS,
	}
}

// Start starts the APIServer
func (s *APIServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
