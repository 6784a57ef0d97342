package api

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/pushbucket/pushbucket-server/cmd/config"
	"github.com/pushbucket/pushbucket-server/service/devices"
	"github.com/pushbucket/pushbucket-server/service/dispatch"
	"github.com/pushbucket/pushbucket-server/service/push"
	"github.com/pushbucket/pushbucket-server/service/snooze"
	"github.com/pushbucket/pushbucket-server/service/sweeper"
	"github.com/pushbucket/pushbucket-server/service/usage"
)

type APIServer struct {
	address string
	db      *gorm.DB
	rdb     *redis.Client
	cfg     *config.Config
}

func NewApiServer(address string, db *gorm.DB, rdb *redis.Client, cfg *config.Config) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
		rdb:     rdb,
		cfg:     cfg,
	}
}

// Run wires the delivery stack, starts the deferred delivery sweeper and
// serves until the listener fails or ctx is cancelled.
func (s *APIServer) Run(ctx context.Context) error {
	strategies, err := push.NewStrategies(s.cfg.Push)
	if err != nil {
		return err
	}

	usageStore := usage.NewStore(s.rdb)
	delegate := push.NewPassthroughDelegate(s.cfg.Passthrough.Server, s.cfg.Passthrough.Token, usageStore)

	store := dispatch.NewGormStore(s.db)
	audit := dispatch.NewGormAuditSink(s.db)
	orchestrator := dispatch.NewOrchestrator(store, audit, strategies, delegate, s.cfg.Push)

	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	deviceHandler := devices.NewDeviceHandler(s.db)
	deviceHandler.RegisterRoutes(subrouter)

	dispatchHandler := dispatch.NewHandler(s.db, orchestrator, strategies, usageStore)
	dispatchHandler.RegisterRoutes(subrouter)

	snoozeHandler := snooze.NewSnoozeHandler(s.db)
	snoozeHandler.RegisterRoutes(subrouter)

	deferredSweeper := sweeper.NewSweeper(sweeper.NewGormStore(s.db), orchestrator, s.cfg.Sweeper.Interval)
	go deferredSweeper.Run(ctx)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	server := &http.Server{
		Addr:    s.address,
		Handler: handlers.CombinedLoggingHandler(os.Stdout, cors(router)),
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down HTTP server...")
		server.Shutdown(context.Background())
	}()

	log.Println("Server running at", s.address)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
