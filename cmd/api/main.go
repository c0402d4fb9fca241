package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"taskmanager/api/internal/app"
	"taskmanager/api/internal/config"
	"taskmanager/api/internal/email"
	"taskmanager/api/internal/events"
	"taskmanager/api/internal/logger"
	"taskmanager/api/internal/search"
	"taskmanager/api/internal/secrets"
	"taskmanager/api/internal/session"
	"taskmanager/api/internal/storage"
	"taskmanager/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{})
	if err != nil {
		zlog.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		zlog.Fatal("migrations failed", zap.Error(err))
	}
	if len(applied) > 0 {
		zlog.Info("migrations applied", zap.Strings("versions", applied))
	}

	dataStore := store.NewPostgresStore(db)

	var sessions app.SessionStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			zlog.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisStore.Close()
		sessions = redisStore
		zlog.Info("using redis for sessions")
	} else {
		zlog.Info("using postgres for sessions")
		go purgeSessions(ctx, dataStore, zlog)
	}

	var blobs storage.Storage
	if strings.TrimSpace(cfg.MinIO.Endpoint) != "" {
		blobs, err = storage.NewMinIO(ctx, cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Bucket, cfg.MinIO.UseSSL)
		if err != nil {
			zlog.Fatal("minio setup failed", zap.Error(err))
		}
		zlog.Info("storing files in minio", zap.String("bucket", cfg.MinIO.Bucket))
	} else {
		blobs, err = storage.NewLocal(cfg.UploadDir)
		if err != nil {
			zlog.Fatal("upload dir setup failed", zap.Error(err))
		}
		zlog.Info("storing files on disk", zap.String("dir", cfg.UploadDir))
	}

	var publisher events.Publisher = events.Nop{}
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			zlog.Fatal("amqp connection failed", zap.Error(err))
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, zlog)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db), zlog)

	fieldKey := cfg.FieldKey
	if fieldKey == "" {
		zlog.Warn("FIELD_ENCRYPTION_KEY not set, deriving field key from session secret")
		fieldKey = cfg.SessionSecret
	}
	box, err := secrets.New(fieldKey)
	if err != nil {
		zlog.Fatal("field encryption setup failed", zap.Error(err))
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	})
	if !mailer.IsConfigured() {
		zlog.Info("smtp not configured, generated passwords are returned to the caller")
	}

	service, err := app.New(cfg, app.Deps{
		Store:    dataStore,
		Sessions: sessions,
		Blobs:    blobs,
		Box:      box,
		Mailer:   mailer,
		Events:   publisher,
		Search:   searchService,
		Logger:   zlog,
	})
	if err != nil {
		zlog.Fatal("service setup failed", zap.Error(err))
	}
	if err := service.Bootstrap(ctx); err != nil {
		zlog.Warn("bootstrap error (will retry on next restart)", zap.Error(err))
	}
	go searchService.ReindexAllFromPG(ctx)

	httpServer := app.NewHTTPServer(service, app.HTTPConfig{
		CORSOrigins:    cfg.CORSOrigins,
		SecureCookies:  cfg.SecureCookies,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, zlog)
	server := &http.Server{
		Addr: cfg.Addr,
		Handler: httpServer.Handler(func(r *gin.Engine) {
			r.GET("/metrics", gin.WrapH(promhttp.Handler()))
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zlog.Info("task manager api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("shutdown error", zap.Error(err))
	}
}

// purgeSessions drops expired Postgres session rows once an hour.
func purgeSessions(ctx context.Context, pg *store.PostgresStore, zlog *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pg.PurgeExpiredSessions(ctx)
			if err != nil {
				zlog.Warn("purge expired sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				zlog.Info("purged expired sessions", zap.Int64("count", n))
			}
		}
	}
}
