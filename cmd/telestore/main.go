// main.go — точка входа telestore.
// Собирает зависимости: config, logger, PostgreSQL (+миграции),
// Telegram Bot API клиент, сервисный слой, фоновые воркеры,
// dephealth и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/telestore/internal/api/handlers"
	"github.com/bigkaa/telestore/internal/api/middleware"
	"github.com/bigkaa/telestore/internal/config"
	"github.com/bigkaa/telestore/internal/database"
	"github.com/bigkaa/telestore/internal/repository"
	"github.com/bigkaa/telestore/internal/server"
	"github.com/bigkaa/telestore/internal/service"
	"github.com/bigkaa/telestore/internal/telegram"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("telestore запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Миграции и подключение к PostgreSQL
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций", slog.String("error", err.Error()))
		log.Fatalf("Миграции не применены: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		log.Fatalf("PostgreSQL недоступен: %v", err)
	}
	defer pool.Close()

	// 4. Репозитории
	fileRepo := repository.NewFileRepository(pool)
	tokenRepo := repository.NewTokenRepository(pool)
	pendingRepo := repository.NewPendingRepository(pool)
	logRepo := repository.NewAccessLogRepository(pool)

	// 5. Telegram Bot API клиент и кэш
	tgClient := telegram.NewClient(cfg, logger)
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL, cfg.FilePathCacheTTL)

	// 6. Сервисный слой
	splitter := service.NewSplitter(cfg.PartSize, cfg.TempDir, logger)
	tokenSvc := service.NewTokenService(tokenRepo, cfg, logger)
	uploadSvc := service.NewUploadService(fileRepo, tgClient, splitter, cfg, logger)
	asyncSvc := service.NewAsyncService(pendingRepo, uploadSvc, cfg, logger)
	accessSvc := service.NewAccessService(fileRepo, logRepo, cache, logger)
	downloadSvc := service.NewDownloadService(accessSvc, fileRepo, logRepo, tgClient, cache, logger)
	catalogSvc := service.NewCatalogService(fileRepo, logRepo, cache, logger)
	signer := service.NewLinkSigner(cfg.DownloadSecret)

	// 7. Фоновые воркеры: очередь загрузок и очистка
	asyncSvc.Start(ctx)
	defer asyncSvc.Stop()

	janitor := service.NewJanitor(tokenSvc, pendingRepo, fileRepo, cfg, logger)
	go janitor.Run(ctx)

	// 8. Dephealth — мониторинг зависимостей (PostgreSQL, Telegram Bot API)
	sqlDB := stdlib.OpenDBFromPool(pool)
	dephealthSvc, err := service.NewDephealthService(
		"telestore",
		cfg.DephealthGroup,
		sqlDB,
		cfg.DatabaseDSN(),
		cfg.APIBase,
		cfg.DephealthInterval,
		cfg.DephealthIsEntry,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка инициализации dephealth", slog.String("error", err.Error()))
		log.Fatalf("dephealth не инициализирован: %v", err)
	}
	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Error("Ошибка запуска dephealth", slog.String("error", err.Error()))
		log.Fatalf("dephealth не запущен: %v", err)
	}
	defer dephealthSvc.Stop()

	// 9. JWT middleware (опционально: пустой TS_JWKS_URL — auth выключен)
	var jwtAuth *middleware.JWTAuth
	if cfg.JWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(cfg.JWKSURL, cfg.JWKSCACert, cfg.JWTIssuer, cfg.JWTLeeway, logger)
		if err != nil {
			logger.Error("Ошибка инициализации JWT middleware", slog.String("error", err.Error()))
			log.Fatalf("JWT middleware не инициализирован: %v", err)
		}
		logger.Info("JWT-аутентификация включена", slog.String("jwks_url", cfg.JWKSURL))
	} else {
		logger.Warn("JWT-аутентификация выключена: TS_JWKS_URL не задан")
	}

	// 10. Handlers и HTTP-сервер
	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(pool),
		telegram.NewReadinessChecker(tgClient, 3*time.Second),
	)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		tokenSvc,
		uploadSvc,
		asyncSvc,
		downloadSvc,
		catalogSvc,
		signer,
		cfg,
		logger,
	)

	srv := server.New(cfg, logger, apiHandler, jwtAuth)

	// 11. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		log.Fatalf("Сервер завершился с ошибкой: %v", err)
	}

	// Остановка фоновых воркеров перед выходом
	cancel()

	logger.Info("telestore остановлен")
}
