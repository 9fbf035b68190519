package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/facegate/attendance/internal/config"
	"github.com/facegate/attendance/internal/db"
	"github.com/facegate/attendance/internal/es"
	"github.com/facegate/attendance/internal/faceclient"
	"github.com/facegate/attendance/internal/handlers"
	"github.com/facegate/attendance/internal/logging"
	"github.com/facegate/attendance/internal/mailer"
	authmw "github.com/facegate/attendance/internal/middleware/auth"
	loggingmw "github.com/facegate/attendance/internal/middleware/logging"
	"github.com/facegate/attendance/internal/mykafka"
	"github.com/facegate/attendance/internal/oauth"
	"github.com/facegate/attendance/internal/repo"
	"github.com/facegate/attendance/internal/service"
	"github.com/facegate/attendance/internal/tokens"
	httpserver "github.com/facegate/attendance/internal/transport/http"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	config.MustNonEmpty(configuration.JWT_SECRET, "JWT_SECRET")
	config.MustNonEmpty(configuration.REFRESH_SECRET, "REFRESH_SECRET")

	logger := logging.New(configuration.LogLevel)

	ctx := context.Background()

	database, err := db.Open(ctx, db.DSN(configuration))
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}

	tokenService := &tokens.Service{
		AccessSecret:  []byte(configuration.JWT_SECRET),
		RefreshSecret: []byte(configuration.REFRESH_SECRET),
	}

	store := repo.New(database)

	var producer *mykafka.Producer
	if configuration.KAFKA_ADDRESS != "" {
		producer = mykafka.NewProducer([]string{configuration.KAFKA_ADDRESS})
	} else {
		logger.Warn("kafka disabled: KAFKA_ADDRESS not set")
	}

	var sender mailer.Sender
	if configuration.SMTP_HOST != "" {
		sender = &mailer.SMTPSender{
			Host:          configuration.SMTP_HOST,
			Port:          configuration.SMTP_PORT,
			User:          configuration.EMAIL_USER,
			Pass:          configuration.EMAIL_PASS,
			VerifyBaseURL: configuration.VERIFY_BASE_URL,
		}
	} else {
		logger.Warn("mailer disabled: SMTP_HOST not set")
	}

	identity := &service.IdentityService{
		Repo:     store,
		Tokens:   tokenService,
		Mailer:   sender,
		Producer: producer,
	}

	attendanceSvc := &service.AttendanceService{
		Repo:     store,
		Producer: producer,
	}

	if configuration.ES_URL != "" {
		client, err := es.NewClient(configuration)
		if err != nil {
			logger.Warn("elasticsearch disabled", "error", err)
		} else {
			attendanceSvc.ES = client
		}
	} else {
		logger.Warn("elasticsearch disabled: ES_URL not set")
	}

	gateway := faceclient.NewClient(configuration.FACE_SERVICE_URL)

	oauthManager := oauth.NewGoogleManager(
		configuration.GOOGLE_CLIENT_ID,
		configuration.GOOGLE_CLIENT_SECRET,
		configuration.OAUTH_REDIRECT_URL,
	)

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: configuration.AllowedOrigins,
	}))
	e.Use(loggingmw.RequestLogger(logger))

	deps := httpserver.Deps{
		AuthHandler: &handlers.AuthHandler{Identity: identity, OAuth: oauthManager},
		FaceHandler: &handlers.FaceHandler{
			Repo:       store,
			Attendance: attendanceSvc,
			Gateway:    gateway,
			Producer:   producer,
		},
		AttendanceHandler: &handlers.AttendanceHandler{Repo: store, ES: attendanceSvc.ES},
		Auth:              &authmw.Middleware{Tokens: tokenService},
	}

	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", configuration.ServerPort),
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit

	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if sqlDB, err := database.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	} else {
		log.Printf("db() error: %v", err)
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Printf("kafka close error: %v", err)
		}
	}

	log.Println("shutdown complete")
}
