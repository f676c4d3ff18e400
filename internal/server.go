package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/2beens/fittracker/internal/config"
	"github.com/2beens/fittracker/internal/db"
	"github.com/2beens/fittracker/internal/middleware"
	"github.com/2beens/fittracker/internal/storage"
	"github.com/2beens/fittracker/internal/storage/pgstore"
	"github.com/2beens/fittracker/internal/storage/redisstore"
	"github.com/2beens/fittracker/internal/telemetry/metrics"
	"github.com/2beens/fittracker/internal/telemetry/tracing"
	"github.com/2beens/fittracker/internal/tracker"
	"github.com/2beens/fittracker/internal/tracker/biosource"
	"github.com/2beens/fittracker/internal/tracker/bucket"
	"github.com/2beens/fittracker/pkg"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

type Server struct {
	opsHttpServer *http.Server
	versionInfo   string

	config      *config.Config
	tracker     *tracker.Tracker
	healthFile  *biosource.JSONFile
	dbPool      *pgxpool.Pool
	redisClient *redis.Client

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	VersionInfo             string
	RedisPassword           string
	PostgresUser            string
	PostgresPassword        string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config
	s := &Server{
		config:      cfg,
		versionInfo: params.VersionInfo,
	}

	var extraCollectors []prometheus.Collector
	backend, err := s.openBackend(ctx, params)
	if err != nil {
		return nil, err
	}
	if s.dbPool != nil {
		extraCollectors = append(extraCollectors, pgxpoolprometheus.NewCollector(
			s.dbPool,
			map[string]string{"db_name": cfg.PostgresDBName},
		))
	}

	s.promRegistry = metrics.SetupPrometheus(params.VersionInfo, extraCollectors...)
	s.metricsManager = metrics.NewManager("fittracker", "main", s.promRegistry)
	s.metricsManager.GaugeLifeSignal.Set(0)

	// use honeycomb distro to setup OpenTelemetry SDK
	s.otelShutdown, err = tracing.HoneycombSetup(params.HoneycombTracingEnabled, "fittracker", s.redisClient)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.CalendarLocation()
	if err != nil {
		return nil, fmt.Errorf("calendar location [%s]: %w", cfg.Location, err)
	}
	calendar := bucket.NewCalendar(loc)
	calendar.WeekStart = cfg.CalendarWeekStart()

	var source biosource.Source = biosource.Nop{}
	if cfg.BiosourcePath != "" {
		if exists, err := pkg.PathExists(cfg.BiosourcePath, false); err != nil {
			return nil, fmt.Errorf("health export path: %w", err)
		} else if !exists {
			log.Warnf("health export [%s] does not exist yet, waiting for the first sync", cfg.BiosourcePath)
		}
		s.healthFile = biosource.NewJSONFile(cfg.BiosourcePath)
		if err := s.healthFile.Reload(); err != nil {
			log.Errorf("initial health export load: %s", err)
		}
		source = s.healthFile
	} else {
		log.Debugln("no health export configured, steps and sleep are manual only")
	}

	s.tracker, err = tracker.New(ctx, tracker.Deps{
		Calendar: calendar,
		Store:    storage.NewCached(backend, cfg.CacheSizeMB, cfg.CacheTTL()),
		Source:   source,
		Metrics:  s.metricsManager,
	})
	if err != nil {
		return nil, fmt.Errorf("new tracker: %w", err)
	}

	return s, nil
}

func (s *Server) openBackend(ctx context.Context, params NewServerParams) (storage.Store, error) {
	cfg := params.Config
	switch cfg.StoreBackend {
	case "memory":
		log.Warnln("using in-memory store, nothing survives a restart")
		return storage.NewMemory(), nil
	case "redis":
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
			Password: params.RedisPassword,
			DB:       0, // use default DB
		})
		rdbStatus := s.redisClient.Ping(ctx)
		if err := rdbStatus.Err(); err != nil {
			log.Errorf("--> failed to ping redis: %s", err)
		} else {
			log.Debugf("redis ping: %s", rdbStatus.Val())
		}
		return redisstore.New(s.redisClient, cfg.RedisKeyPrefix), nil
	case "postgres":
		dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			DBUser:         params.PostgresUser,
			DBPassword:     params.PostgresPassword,
			TracingEnabled: params.HoneycombTracingEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("new db pool: %w", err)
		}
		if err := dbPool.Ping(ctx); err != nil {
			log.Warnf("failed to ping db: %s", err)
		}
		s.dbPool = dbPool

		pgStore := pgstore.New(dbPool)
		if err := pgStore.Migrate(ctx); err != nil {
			return nil, err
		}
		return pgStore, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.StoreBackend)
	}
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("ops-router"))

	r.Handle("/metrics", promhttp.HandlerFor(
		s.promRegistry,
		promhttp.HandlerOpts{},
	)).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())

	return r
}

type healthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version,omitempty"`
	Day               string `json:"day"`
	Degraded          bool   `json:"degraded"`
	SourceUnavailable bool   `json:"source_unavailable"`
	RefreshedAt       string `json:"refreshed_at"`
}

// handleHealth answers 503 while writes are waiting to reach the store.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.tracker.Snapshot()
	resp := healthResponse{
		Status:            "ok",
		Version:           s.versionInfo,
		Day:               snap.Day.String(),
		Degraded:          snap.Degraded,
		SourceUnavailable: snap.SourceUnavailable,
		RefreshedAt:       snap.RefreshedAt.Format(time.RFC3339),
	}

	if snap.Degraded {
		resp.Status = "degraded"
		pkg.WriteJSONResponse(w, http.StatusServiceUnavailable, resp)
		return
	}
	pkg.WriteJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) Serve(ctx context.Context, host string, port int) {
	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.opsHttpServer = &http.Server{
		Handler:      s.routerSetup(),
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
	}

	go func() {
		log.Infof(" > ops server listening on: [%s]", ipAndPort)
		err := s.opsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("ops server, listen and serve: %s", err)
		}
	}()

	go s.runLoop(ctx, "flush", s.config.FlushEvery(), s.flush)
	if s.healthFile != nil {
		go s.runLoop(ctx, "health export sync", s.config.SyncEvery(), s.syncHealthExport)
	}

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) runLoop(ctx context.Context, name string, every time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	log.Debugf("%s loop started, every %s", name, every)
	for {
		select {
		case <-ctx.Done():
			log.Debugf("%s loop stopped", name)
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// flush retries pending writes and moves the read model to a new day after
// midnight, with or without a health export.
func (s *Server) flush(ctx context.Context) {
	if err := s.tracker.Flush(ctx); err != nil {
		log.Errorf("flush pending writes: %s", err)
	}
	if _, err := s.tracker.RollOver(ctx); err != nil {
		log.Errorf("day rollover refresh: %s", err)
	}
}

func (s *Server) syncHealthExport(ctx context.Context) {
	if err := s.healthFile.Reload(); err != nil {
		log.Errorf("reload health export: %s", err)
		s.metricsManager.CounterBiosourceSyncs.WithLabelValues("error").Inc()
		return
	}
	s.metricsManager.CounterBiosourceSyncs.WithLabelValues("ok").Inc()

	if err := s.tracker.Refresh(ctx); err != nil {
		log.Errorf("refresh after health export sync: %s", err)
	}
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if err := s.tracker.Flush(ctx); err != nil {
		log.Errorf("final flush, writes lost: %s", err)
	}

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	if s.opsHttpServer != nil {
		if err := s.opsHttpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown ops http server")
		}
	}
	log.Warnln("ops server shut down")
}
