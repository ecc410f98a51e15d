package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Depado/ginprom"
	"github.com/crm/app/api/routes"
	"github.com/crm/pkg/admission"
	"github.com/crm/pkg/apikey"
	"github.com/crm/pkg/config"
	"github.com/crm/pkg/database"
	"github.com/crm/pkg/domains/auth"
	"github.com/crm/pkg/domains/gateway"
	"github.com/crm/pkg/middleware"
	"github.com/crm/pkg/objectstore"
	"github.com/crm/pkg/ratelimit"
	"github.com/crm/pkg/reconciler"
	"github.com/crm/pkg/registry"
	"github.com/crm/pkg/sendexecutor"
	"github.com/crm/pkg/sessionstorage"
	"github.com/crm/pkg/subscription"
	"github.com/crm/pkg/wallet"
	"github.com/crm/pkg/webhook"

	"github.com/crm/pkg/browserworker"
	"github.com/crm/pkg/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// LaunchHttpServer wires every component (spec.md §4) into a single gin
// engine, kicks off the startup reconciler, and blocks serving until a
// SIGINT/SIGTERM triggers a graceful shutdown.
func LaunchHttpServer(cfg *config.Config) {
	log.Info().Msg("starting HTTP server")
	gin.SetMode(gin.DebugMode)

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		custom := utils.NewCustomValidator()
		v.RegisterValidation("isemail", custom.IsValidEmail)
		v.RegisterValidation("isphone", custom.IsValidPhone)
	}

	db := database.DBClient()

	objects, err := objectstore.New(objectstore.Config{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
		UseSSL:    cfg.ObjectStore.UseSSL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build object store client")
	}
	storage := sessionstorage.NewService(objects, cfg.Session.AuthRootDir)
	apiKeys := apikey.NewService(db)
	webhooks := webhook.NewEngine(db, cfg.Webhook.Workers, cfg.Webhook.QueueDepth)
	wallets := wallet.NewService(db)
	subs := subscription.NewService(db)
	rates := ratelimit.NewService(db)
	exec := sendexecutor.NewExecutor(db)

	reg := registry.New(registry.Factory{
		DB:       db,
		Storage:  storage,
		APIKeys:  apiKeys,
		Webhooks: webhooks,
		Workers: func(sessionID, authDir string) browserworker.Worker {
			return browserworker.NewWhatsmeowWorker(sessionID, authDir)
		},
		IncrementNumbersUsed: func(ctx context.Context, userID uint) error {
			return subs.RecordUsage(ctx, userID, 0, 1)
		},
	})

	pipeline := admission.NewPipeline(db, reg, subs, rates, wallets, exec, webhooks)
	gatewaySvc := gateway.NewService(db, reg, pipeline, wallets, subs, rates, webhooks, apiKeys, storage, objects)

	recon := reconciler.New(db, objects, reg)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()
	if err := recon.Run(startupCtx); err != nil {
		log.Error().Err(err).Msg("startup reconciliation failed")
	}

	app := gin.New()
	app.Use(gin.LoggerWithFormatter(func(p gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] - %s \"%s %s %s %d %s\"\n",
			p.TimeStamp.Format("2006-01-02 15:04:05"),
			p.ClientIP,
			p.Method,
			p.Path,
			p.Request.Proto,
			p.StatusCode,
			p.Latency,
		)
	}))
	app.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	app.Use(gin.Recovery())
	app.Use(otelgin.Middleware(cfg.App.Name))
	app.Use(middleware.ClaimIp())
	app.Use(cors.New(cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions, http.MethodPatch},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Requested-With", "Accept"},
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))

	p := ginprom.New(
		ginprom.Engine(app),
		ginprom.Subsystem("gin"),
		ginprom.Path("/metrics"),
		ginprom.Ignore("/swagger/*any"),
	)
	app.Use(p.Instrument())

	app.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	app.GET("/readyz", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err != nil || sqlDB.Ping() != nil {
			c.JSON(503, gin.H{"status": "not ready"})
			return
		}
		c.JSON(200, gin.H{"status": "ready"})
	})

	authRepo := auth.NewRepo(db)
	authService := auth.NewService(authRepo)
	routes.AuthRoutes(app.Group("/api/v1").Group("/auth"), authService)

	routes.DashboardRoutes(app.Group("/api"), gatewaySvc)
	routes.V1Routes(app.Group("/api/v1"), gatewaySvc, apiKeys)

	srv := &http.Server{
		Addr:    net.JoinHostPort(cfg.App.Host, cfg.App.Port),
		Handler: app,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
