// async.go — фоновая загрузка в Telegram через очередь pending_uploads.
// Файл спулится на диск, клиент сразу получает id для опроса статуса,
// отправку выполняет пул воркеров. Прогресс отправки отображается
// в диапазон 10–80: 0–10 — постановка в очередь, 80–100 — финализация.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/telestore/internal/config"
	"github.com/bigkaa/telestore/internal/domain/model"
	"github.com/bigkaa/telestore/internal/repository"
	"github.com/bigkaa/telestore/internal/telegram"
)

// Ошибки async service.
var (
	// ErrQueueFull — буфер очереди заполнен, клиенту следует повторить позже.
	ErrQueueFull = errors.New("очередь загрузок заполнена")
)

// Prometheus-метрики фоновой загрузки.
var (
	asyncQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ts_async_queue_depth",
		Help: "Текущее количество заданий в буфере очереди загрузок.",
	})
	asyncUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ts_async_uploads_total",
		Help: "Количество фоновых загрузок (по результату).",
	}, []string{"status"})
)

// Границы диапазона прогресса, отведённого под отправку в Telegram.
const (
	progressSendStart = 10
	progressSendEnd   = 80
	progressRecorded  = 90
)

// AsyncService — очередь фоновых загрузок с пулом воркеров.
type AsyncService struct {
	pending  repository.PendingRepository
	uploader *UploadService
	tempDir  string
	queue    chan int64
	workers  int
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewAsyncService создаёт сервис фоновых загрузок.
func NewAsyncService(
	pending repository.PendingRepository,
	uploader *UploadService,
	cfg *config.Config,
	logger *slog.Logger,
) *AsyncService {
	return &AsyncService{
		pending:  pending,
		uploader: uploader,
		tempDir:  cfg.TempDir,
		queue:    make(chan int64, cfg.AsyncQueueSize),
		workers:  cfg.AsyncWorkers,
		logger:   logger.With(slog.String("component", "async_service")),
	}
}

// Start запускает пул воркеров. Воркеры живут до отмены ctx.
func (s *AsyncService) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func(worker int) {
			defer s.wg.Done()
			s.logger.Debug("Воркер очереди запущен", slog.Int("worker", worker))
			for {
				select {
				case <-ctx.Done():
					return
				case id, ok := <-s.queue:
					if !ok {
						return
					}
					asyncQueueDepth.Dec()
					s.process(ctx, id)
				}
			}
		}(i)
	}
}

// Stop дожидается завершения воркеров. Вызывается после отмены
// контекста, переданного в Start.
func (s *AsyncService) Stop() {
	s.wg.Wait()
}

// Enqueue спулит входящий файл на диск, создаёт запись очереди
// и передаёт её воркерам. Возвращает id записи для опроса статуса.
func (s *AsyncService) Enqueue(ctx context.Context, src io.Reader, fileName string, size int64, meta model.UploadMetadata) (int64, error) {
	// Метаданные валидируются сразу: клиент получает ошибку
	// синхронно, а не через статус failed.
	if _, err := normalizeMetadata(meta); err != nil {
		return 0, err
	}

	spoolPath := filepath.Join(s.tempDir, "ts-upload-"+uuid.New().String()+filepath.Ext(fileName))
	dst, err := os.OpenFile(spoolPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания файла спула: %w", err)
	}
	written, err := io.Copy(dst, src)
	closeErr := dst.Close()
	if err != nil {
		os.Remove(spoolPath)
		return 0, fmt.Errorf("ошибка записи файла спула: %w", err)
	}
	if closeErr != nil {
		os.Remove(spoolPath)
		return 0, fmt.Errorf("ошибка закрытия файла спула: %w", closeErr)
	}
	if size > 0 && written != size {
		os.Remove(spoolPath)
		return 0, fmt.Errorf("%w: получено %d байт, заявлено %d", ErrInvalidMetadata, written, size)
	}

	p := &model.PendingUpload{
		FilePath:   spoolPath,
		FileName:   fileName,
		FileSize:   written,
		MaxRetries: s.uploader.retry.MaxAttempts,
		Metadata:   meta,
	}
	id, err := s.pending.Create(ctx, p)
	if err != nil {
		os.Remove(spoolPath)
		return 0, err
	}

	select {
	case s.queue <- id:
		asyncQueueDepth.Inc()
	default:
		// Буфер заполнен: запись сразу помечается failed, спул удаляется
		s.logger.Warn("Очередь загрузок заполнена", slog.Int64("pending_id", id))
		if err := s.pending.Fail(ctx, id, "очередь загрузок заполнена"); err != nil {
			s.logger.Error("Не удалось пометить задание failed", slog.String("error", err.Error()))
		}
		os.Remove(spoolPath)
		return 0, ErrQueueFull
	}

	s.logger.Info("Файл поставлен в очередь загрузки",
		slog.Int64("pending_id", id),
		slog.String("file_name", fileName),
		slog.Int64("size", written),
	)
	return id, nil
}

// Status возвращает запись очереди по id.
func (s *AsyncService) Status(ctx context.Context, id int64) (*model.PendingUpload, error) {
	p, err := s.pending.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// process выполняет одно задание очереди.
// Переход pending → processing защищён условием по статусу:
// повторная доставка того же id обрабатываться не будет.
func (s *AsyncService) process(ctx context.Context, id int64) {
	ok, err := s.pending.MarkProcessing(ctx, id)
	if err != nil {
		s.logger.Error("Ошибка перехода в processing",
			slog.Int64("pending_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		s.logger.Warn("Задание уже не в pending, пропуск", slog.Int64("pending_id", id))
		return
	}

	p, err := s.pending.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Ошибка чтения задания очереди",
			slog.Int64("pending_id", id),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.relayPending(ctx, p); err != nil {
		asyncUploadsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("Фоновая загрузка не удалась",
			slog.Int64("pending_id", id),
			slog.String("file_name", p.FileName),
			slog.String("error", err.Error()),
		)
		// Файл спула сохраняется для диагностики, его удалит очистка
		if failErr := s.pending.Fail(ctx, id, err.Error()); failErr != nil {
			s.logger.Error("Не удалось пометить задание failed", slog.String("error", failErr.Error()))
		}
		return
	}

	if err := s.pending.Complete(ctx, id); err != nil {
		s.logger.Error("Не удалось пометить задание completed", slog.String("error", err.Error()))
	}
	if err := os.Remove(p.FilePath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Не удалось удалить файл спула",
			slog.String("path", p.FilePath),
			slog.String("error", err.Error()),
		)
	}

	asyncUploadsTotal.WithLabelValues("completed").Inc()
	s.logger.Info("Фоновая загрузка завершена",
		slog.Int64("pending_id", id),
		slog.String("file_name", p.FileName),
	)
}

// relayPending отправляет файл задания в Telegram с обновлением
// прогресса. Повторы учитываются в retry_count.
func (s *AsyncService) relayPending(ctx context.Context, p *model.PendingUpload) error {
	norm, err := normalizeMetadata(p.Metadata)
	if err != nil {
		return err
	}

	onRetry := func(attempt int, err error) {
		if incErr := s.pending.IncrementRetry(ctx, p.ID); incErr != nil {
			s.logger.Error("Не удалось увеличить retry_count", slog.String("error", incErr.Error()))
		}
		s.logger.Warn("Повтор фоновой отправки",
			slog.Int64("pending_id", p.ID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	// bytesDone — байты, отправленные в завершённых частях.
	// Прогресс файла целиком отображается в диапазон 10–80.
	var bytesDone int64
	lastProgress := progressSendStart
	progressFn := func(sent, _ int64) {
		value := sendProgress(bytesDone+sent, p.FileSize)
		if value > lastProgress {
			lastProgress = value
			if err := s.pending.UpdateProgress(ctx, p.ID, value); err != nil {
				s.logger.Warn("Не удалось обновить прогресс", slog.String("error", err.Error()))
			}
		}
	}

	if p.FileSize <= s.uploader.partSize {
		if err := s.sendPendingDocument(ctx, p.FilePath, p.FileName, p.FileSize, norm, progressFn, onRetry); err != nil {
			return err
		}
	} else {
		_, err := s.uploader.splitter.Split(ctx, p.FilePath, p.FileName, func(ctx context.Context, part Part) error {
			if err := s.sendPendingDocument(ctx, part.Path, part.Name, part.Size, norm, progressFn, onRetry); err != nil {
				return err
			}
			bytesDone += part.Size
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err := s.pending.UpdateProgress(ctx, p.ID, progressRecorded); err != nil {
		s.logger.Warn("Не удалось обновить прогресс", slog.String("error", err.Error()))
	}
	return nil
}

// sendPendingDocument отправляет один документ задания с повторами
// и создаёт запись файла.
func (s *AsyncService) sendPendingDocument(
	ctx context.Context,
	path, fileName string,
	size int64,
	norm normalizedMeta,
	progressFn func(sent, total int64),
	onRetry func(attempt int, err error),
) error {
	up := s.uploader
	var lastErr error
	err := up.retry.Do(ctx,
		func(ctx context.Context) error {
			doc, sendErr := up.relay.SendDocument(ctx, path, fileName, progressFn)
			if sendErr != nil {
				return sendErr
			}
			record := norm.newRecord(fileName, size, doc.FileID)
			id, createErr := up.files.Create(ctx, record)
			if createErr != nil {
				lastErr = fmt.Errorf("документ отправлен (file_id %s), но запись не создана: %w", doc.FileID, createErr)
				return nil // ошибку БД не повторяем через Telegram
			}
			record.ID = id
			uploadBytesTotal.Add(float64(size))
			return nil
		},
		telegram.IsRetryable,
		onRetry,
	)
	if err != nil {
		return err
	}
	return lastErr
}

// sendProgress отображает отправленные байты в диапазон 10–80.
func sendProgress(sent, total int64) int {
	if total <= 0 {
		return progressSendStart
	}
	if sent > total {
		sent = total
	}
	return progressSendStart + int(int64(progressSendEnd-progressSendStart)*sent/total)
}
