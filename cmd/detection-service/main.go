package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/vitalis-health/sentinel/pkg/alerts"
	"github.com/vitalis-health/sentinel/pkg/analytics/correlation"
	"github.com/vitalis-health/sentinel/pkg/analytics/seasonal"
	"github.com/vitalis-health/sentinel/pkg/catalog"
	"github.com/vitalis-health/sentinel/pkg/common/config"
	"github.com/vitalis-health/sentinel/pkg/common/database"
	"github.com/vitalis-health/sentinel/pkg/common/kafka"
	"github.com/vitalis-health/sentinel/pkg/common/logger"
	"github.com/vitalis-health/sentinel/pkg/gateway"
	"github.com/vitalis-health/sentinel/pkg/matcher"
	"github.com/vitalis-health/sentinel/pkg/risk"
	"github.com/vitalis-health/sentinel/pkg/scheduler"
)

type DetectionService struct {
	catalog     *catalog.Catalog
	source      gateway.Source
	riskEngine  *risk.Engine
	matches     matchStore
	generator   *alerts.Generator
	correlation *correlation.Analyzer
	seasonal    *seasonal.Analyzer
	scheduler   *scheduler.Scheduler
}

func (s *DetectionService) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.HandleFunc("/api/v1/detection/run", s.handleTriggerRun).Methods("POST")
	router.HandleFunc("/api/v1/detection/report", s.handleLastReport).Methods("GET")
	router.HandleFunc("/api/v1/patterns", s.handleSavePattern).Methods("POST")
	router.HandleFunc("/api/v1/patterns", s.handleListPatterns).Methods("GET")
	router.HandleFunc("/api/v1/patterns/{id}", s.handleGetPattern).Methods("GET")
	router.HandleFunc("/api/v1/patterns/{id}", s.handleDeactivatePattern).Methods("DELETE")
	router.HandleFunc("/api/v1/patients/{id}/risk", s.handlePatientRisk).Methods("GET")
	router.HandleFunc("/api/v1/patients/{id}/matches", s.handlePatientMatches).Methods("GET")
	router.HandleFunc("/api/v1/matches/pending", s.handlePendingMatches).Methods("GET")
	router.HandleFunc("/api/v1/matches/{id}/notified", s.handleMatchNotified).Methods("POST")
	router.HandleFunc("/api/v1/analytics/correlation", s.handleCorrelation).Methods("GET")
	router.HandleFunc("/api/v1/analytics/seasonal", s.handleSeasonal).Methods("GET")
	router.HandleFunc("/api/v1/alerts/pending", s.handlePendingAlerts).Methods("GET")
	router.HandleFunc("/api/v1/alerts/{id}/ack", s.handleAcknowledgeAlert).Methods("POST")
	router.HandleFunc("/api/v1/alerts/{id}/notified", s.handleMarkNotified).Methods("POST")
	return router
}

func main() {
	logger.Init()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Log.WithError(err).Fatal("Invalid configuration")
	}

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to PostgreSQL")
	}

	clinicalStore := gateway.NewClinicalStore(db)
	catalogRepo := catalog.NewRepository(db)
	matchRepo := matcher.NewRepository(db)
	alertRepo := alerts.NewRepository(db)
	for name, migrate := range map[string]func() error{
		"clinical": clinicalStore.AutoMigrate,
		"catalog":  catalogRepo.AutoMigrate,
		"matches":  matchRepo.AutoMigrate,
		"alerts":   alertRepo.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logger.Log.WithError(err).WithField("store", name).Fatal("Failed to migrate schema")
		}
	}

	// SNAPSHOT_CACHE_TTL=0 runs without the redis snapshot cache.
	var source gateway.Source = clinicalStore
	if cfg.SnapshotCacheTTL > 0 {
		source = gateway.NewCachedSource(clinicalStore, database.GetRedis(), cfg.SnapshotCacheTTL)
	}

	producer := kafka.NewProducer(cfg.KafkaTopic)
	defer producer.Close()

	patternCatalog := catalog.New(catalogRepo)
	seeds, err := catalog.LoadSeedPatterns(cfg.PatternSeedPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load seed patterns")
	}
	if err := patternCatalog.Seed(context.Background(), seeds); err != nil {
		logger.Log.WithError(err).Fatal("Failed to seed pattern catalog")
	}

	riskEngine := risk.NewEngine(risk.OptionsFromConfig(cfg))
	generator := alerts.NewGenerator(alertRepo, alerts.WithPublisher(producer))
	patternMatcher := matcher.New(matchRepo)

	schedOpts := scheduler.OptionsFromConfig(cfg)
	schedOpts.Publisher = producer
	sched := scheduler.New(patternCatalog, source, patternMatcher, riskEngine, generator, schedOpts)

	runCtx, stopBackground := context.WithCancel(context.Background())
	go sched.Start(runCtx)
	go consumeImportEvents(runCtx, cfg, sched)

	service := &DetectionService{
		catalog:     patternCatalog,
		source:      source,
		riskEngine:  riskEngine,
		matches:     matchRepo,
		generator:   generator,
		correlation: correlation.NewAnalyzer(cfg.CorrelationMinSample, riskEngine),
		seasonal:    seasonal.NewAnalyzer(cfg.SeasonalDeviationPct),
		scheduler:   sched,
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      service.router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Detection Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Detection Service...")
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("Failed to close PostgreSQL")
	}

	logger.Log.Info("Detection Service stopped")
}

// consumeImportEvents triggers an on-demand cycle whenever an upstream bulk
// import finishes, so fresh data is evaluated without waiting for the timer.
func consumeImportEvents(ctx context.Context, cfg *config.Config, sched *scheduler.Scheduler) {
	consumer := kafka.NewConsumer("clinical.imports", cfg.KafkaGroupID)
	defer consumer.Close()

	err := consumer.Consume(ctx, func(ctx context.Context, event kafka.Event) error {
		if event.Type != "import.completed" {
			return nil
		}
		if sched.TriggerRun(nil) {
			logger.Log.WithField("event_id", event.ID).Info("detection run triggered by import")
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		logger.Log.WithError(err).Error("import event consumer stopped")
	}
}
