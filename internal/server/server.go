// Пакет server — HTTP-сервер telestore с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/telestore/internal/api/handlers"
	"github.com/bigkaa/telestore/internal/api/middleware"
	"github.com/bigkaa/telestore/internal/config"
)

// Server — HTTP-сервер telestore.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
// auth — JWT middleware; nil — аутентификация выключена
// (локальная разработка и тесты).
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler, auth *middleware.JWTAuth) *Server {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Service endpoints — без аутентификации
	router.Get("/health/live", handler.HealthLive)
	router.Get("/health/ready", handler.HealthReady)
	router.Get("/metrics", handler.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		// Публичное скачивание: доступ контролируется подписанной
		// ссылкой (HMAC), не JWT.
		r.Get("/files/{id}/download", handler.DownloadFile)

		r.Group(func(r chi.Router) {
			if auth != nil {
				r.Use(auth.Middleware())
			}

			// Токены прямой загрузки
			r.Post("/request-upload", handler.RequestUploadToken)
			r.Post("/save-upload", handler.SaveUpload)
			r.Get("/upload-status/{token}", handler.GetUploadTokenStatus)

			// Загрузка через сервер
			r.Post("/uploads", handler.UploadFile)
			r.Post("/uploads/async", handler.UploadFileAsync)
			r.Get("/uploads/pending/{id}", handler.GetPendingUpload)

			// Каталог файлов
			r.Get("/files", handler.ListFiles)
			r.Get("/files/stats", handler.GetFileStats)
			r.Get("/files/{id}", handler.GetFile)
			r.Delete("/files/{id}", handler.DeleteFile)
			r.Post("/files/{id}/deactivate", handler.DeactivateFile)
			r.Get("/files/{id}/link", handler.GetFileLink)
			r.Get("/files/{id}/history", handler.GetFileHistory)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
