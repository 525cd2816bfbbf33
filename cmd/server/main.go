package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ulule/limiter/v3"

	"github.com/avdeevramil/market-backend/internal/config"
	"github.com/avdeevramil/market-backend/internal/db"
	"github.com/avdeevramil/market-backend/internal/goroutine"
	httpHandlers "github.com/avdeevramil/market-backend/internal/http/handlers"
	httpRouter "github.com/avdeevramil/market-backend/internal/http/router"
	"github.com/avdeevramil/market-backend/internal/logger"
	"github.com/avdeevramil/market-backend/internal/mailer"
	"github.com/avdeevramil/market-backend/internal/ratelimit"
	"github.com/avdeevramil/market-backend/internal/repository"
	"github.com/avdeevramil/market-backend/internal/service"
	"github.com/avdeevramil/market-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Хранилище счётчиков лимитера: redis для общих счётчиков между
	// инстансами, память процесса как fallback.
	var rateStore limiter.Store
	if cfg.RedisURL != "" {
		redisClient, err := db.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("main: ошибка подключения к redis: %v", err)
		}
		defer redisClient.Close()

		rateStore, err = ratelimit.NewRedisStore(redisClient)
		if err != nil {
			log.Fatalf("main: ошибка создания redis хранилища лимитов: %v", err)
		}
	} else {
		rateStore = ratelimit.NewMemoryStore()
	}

	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.ResetSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.ResetGrantTTL)

	// Репозитории.
	accountRepo := repository.NewAccountRepository(dbConn)
	sessionRepo := repository.NewSessionRepository(dbConn)
	verificationRepo := repository.NewVerificationRepository(dbConn)

	// Доставка кодов: SMTP в бою, лог в development.
	var dispatcher mailer.Dispatcher
	if cfg.SMTPAddr != "" {
		dispatcher = &mailer.SMTPDispatcher{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom}
	} else {
		dispatcher = mailer.LogDispatcher{}
	}

	// Вебсокеты: push событий безопасности.
	hub := ws.NewHub()
	goroutine.SafeGo(hub.Run)

	// Сервисы.
	verificationService := service.NewVerificationService(verificationRepo, accountRepo, dispatcher, cfg.EmailCodeTTL, cfg.OTPCodeTTL, cfg.ResetGrantTTL)
	authService := service.NewAuthService(accountRepo, sessionRepo, tokenManager, verificationService, hub)
	passwordService := service.NewPasswordService(accountRepo, sessionRepo, tokenManager, verificationService, hub)

	rateLimiter := ratelimit.New(rateStore, ratelimit.DefaultRates(cfg.DispatchLimit, cfg.DispatchPeriod, cfg.LoginLimit, cfg.LoginPeriod))

	// HTTP хэндлеры.
	secureCookies := cfg.Env == "production"
	authHandler := httpHandlers.NewAuthHandler(authService, rateLimiter, secureCookies)
	passwordHandler := httpHandlers.NewPasswordHandler(passwordService, rateLimiter)
	profileHandler := httpHandlers.NewProfileHandler(accountRepo)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager, cfg.AllowedOrigins)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	// Фоновая уборка истёкших сессий и кодов.
	goroutine.SafeGoWithContext(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := sessionRepo.DeleteExpired(ctx); err != nil {
					logger.Log.WithError(err).Warn("main: не удалось удалить истёкшие сессии")
				} else if n > 0 {
					logger.Log.WithField("count", n).Debug("main: удалены истёкшие сессии")
				}
				if n, err := verificationRepo.DeleteExpired(ctx); err != nil {
					logger.Log.WithError(err).Warn("main: не удалось удалить истёкшие коды")
				} else if n > 0 {
					logger.Log.WithField("count", n).Debug("main: удалены истёкшие коды")
				}
			}
		}
	})

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, authHandler, passwordHandler, profileHandler, wsHandler, healthHandler, tokenManager, rateStore)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
