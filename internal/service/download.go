// download.go — потоковое проксирование скачивания из Telegram.
// Pipeline: контроль доступа → резолв file_path (кэш / getFile) →
// потоковая передача клиенту. Для файлов, которые Bot API отказывается
// отдавать через getFile ("file is too big"), используется сохранённый
// file_url.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/telestore/internal/repository"
	"github.com/bigkaa/telestore/internal/telegram"
)

// Ошибки download service.
var (
	// ErrFileUnavailable — файл слишком большой для getFile,
	// а запасной file_url для него не сохранён.
	ErrFileUnavailable = errors.New("файл недоступен для скачивания")
)

// Prometheus-метрики download.
var (
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ts_downloads_total",
		Help: "Общее количество запросов на скачивание (по статусу).",
	}, []string{"status"})

	downloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ts_download_duration_seconds",
		Help:    "Длительность proxy download (от запроса до завершения streaming).",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	downloadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ts_download_bytes_total",
		Help: "Общее количество переданных байт при скачивании.",
	})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ts_active_downloads",
		Help: "Количество активных (in-progress) proxy downloads.",
	})
)

// Fetcher — операции Bot API, нужные для скачивания.
// Реализуется telegram.Client.
type Fetcher interface {
	GetFile(ctx context.Context, fileID string) (string, error)
	FileURL(filePath string) string
	Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error)
}

// DownloadService — сервис проксирования скачивания.
type DownloadService struct {
	access    *AccessService
	files     repository.FileRepository
	analytics repository.AccessLogRepository
	fetcher   Fetcher
	cache     *CacheService
	logger    *slog.Logger
}

// NewDownloadService создаёт сервис скачивания.
func NewDownloadService(
	access *AccessService,
	files repository.FileRepository,
	analytics repository.AccessLogRepository,
	fetcher Fetcher,
	cache *CacheService,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		access:    access,
		files:     files,
		analytics: analytics,
		fetcher:   fetcher,
		cache:     cache,
		logger:    logger.With(slog.String("component", "download_service")),
	}
}

// Download выполняет полный pipeline скачивания файла.
//
//  1. Контроль доступа (с атомарным учётом access_count)
//  2. Резолв источника: кэш file_path → getFile → file_url fallback
//  3. Открытие потока из Telegram
//  4. Заголовки и streaming copy клиенту
//  5. Учёт скачивания после начала передачи
//
// До первого байта ответа ошибки возвращаются вызывающему для
// преобразования в HTTP-статус. После начала streaming ошибка
// только логируется — заголовки уже отправлены.
func (ds *DownloadService) Download(ctx context.Context, w http.ResponseWriter, req AccessRequest) error {
	start := time.Now()
	activeDownloads.Inc()
	defer activeDownloads.Dec()

	record, err := ds.access.Authorize(ctx, req)
	if err != nil {
		downloadsTotal.WithLabelValues("denied").Inc()
		return err
	}

	url, err := ds.resolveURL(ctx, record.TelegramFileID, record.FileURL)
	if err != nil {
		downloadsTotal.WithLabelValues("unavailable").Inc()
		return err
	}

	body, size, err := ds.fetcher.Fetch(ctx, url)
	if err != nil {
		downloadsTotal.WithLabelValues("telegram_error").Inc()
		return fmt.Errorf("ошибка открытия потока из Telegram: %w", err)
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment",
		map[string]string{"filename": record.FileName}))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)

	// Передача началась — скачивание учитывается независимо от того,
	// дочитает ли клиент поток до конца
	ds.recordDownload(ctx, record.ID, req)

	buf := make([]byte, 8*1024)
	written, err := io.CopyBuffer(w, body, buf)
	if err != nil {
		ds.logger.Error("Ошибка streaming download",
			slog.Int64("file_id", record.ID),
			slog.Int64("bytes_written", written),
			slog.String("error", err.Error()),
		)
		downloadsTotal.WithLabelValues("stream_error").Inc()
		return nil
	}

	duration := time.Since(start)
	downloadsTotal.WithLabelValues("success").Inc()
	downloadDuration.Observe(duration.Seconds())
	downloadBytesTotal.Add(float64(written))

	ds.logger.Debug("Download завершён",
		slog.Int64("file_id", record.ID),
		slog.Int64("bytes", written),
		slog.Duration("duration", duration),
	)
	return nil
}

// resolveURL определяет URL источника файла.
// file_path стабилен для file_id, поэтому кэшируется надолго.
func (ds *DownloadService) resolveURL(ctx context.Context, telegramFileID string, fallbackURL *string) (string, error) {
	if filePath, ok := ds.cache.GetFilePath(telegramFileID); ok {
		return ds.fetcher.FileURL(filePath), nil
	}

	filePath, err := ds.fetcher.GetFile(ctx, telegramFileID)
	if err == nil {
		ds.cache.SetFilePath(telegramFileID, filePath)
		return ds.fetcher.FileURL(filePath), nil
	}

	if telegram.IsFileTooBig(err) {
		if fallbackURL != nil && *fallbackURL != "" {
			ds.logger.Debug("getFile отказал по размеру, используется file_url",
				slog.String("telegram_file_id", telegramFileID),
			)
			return *fallbackURL, nil
		}
		return "", ErrFileUnavailable
	}
	return "", fmt.Errorf("ошибка getFile: %w", err)
}

// recordDownload учитывает начатое скачивание: download_count,
// строка аналитики, инвалидация кэша метаданных.
func (ds *DownloadService) recordDownload(ctx context.Context, fileID int64, req AccessRequest) {
	if err := ds.files.IncrementDownload(ctx, fileID); err != nil {
		ds.logger.Error("Ошибка инкремента download_count",
			slog.Int64("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
	ds.cache.InvalidateRecord(fileID)

	if err := ds.analytics.AppendDownload(ctx, fileID, req.UserID, req.IPAddress, req.UserAgent); err != nil {
		ds.logger.Error("Ошибка записи аналитики скачивания",
			slog.Int64("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
}
