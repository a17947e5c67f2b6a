// access.go — контроль доступа к файлам перед скачиванием.
// Единый порядок проверок: существование → активность → срок действия
// (с автодеактивацией) → лимит скачиваний → пароль. Инкремент счётчика
// доступа атомарный: лимит не превышается и под конкурентными запросами.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/telestore/internal/domain/model"
	"github.com/bigkaa/telestore/internal/repository"
)

// Ошибки access gate. Порядок проверок фиксирован, поэтому клиент
// всегда получает самую раннюю применимую причину отказа.
var (
	// ErrNotFound — запись файла не существует.
	ErrNotFound = errors.New("файл не найден")
	// ErrFileInactive — запись деактивирована.
	ErrFileInactive = errors.New("файл деактивирован")
	// ErrFileExpired — срок действия файла истёк.
	ErrFileExpired = errors.New("срок действия файла истёк")
	// ErrDownloadLimitReached — лимит скачиваний исчерпан.
	ErrDownloadLimitReached = errors.New("лимит скачиваний исчерпан")
	// ErrPasswordRequired — файл защищён паролем, пароль не передан.
	ErrPasswordRequired = errors.New("требуется пароль")
	// ErrWrongPassword — передан неверный пароль.
	ErrWrongPassword = errors.New("неверный пароль")
)

// Prometheus-метрики контроля доступа.
var accessChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ts_access_checks_total",
	Help: "Количество проверок доступа к файлам (по результату).",
}, []string{"result"})

// AccessRequest — контекст запроса доступа для журнала.
type AccessRequest struct {
	FileID    int64
	Password  string
	UserID    *string
	IPAddress string
	UserAgent string
}

// AccessService — шлюз контроля доступа к файлам.
type AccessService struct {
	files  repository.FileRepository
	logs   repository.AccessLogRepository
	cache  *CacheService
	logger *slog.Logger
}

// NewAccessService создаёт шлюз контроля доступа.
func NewAccessService(
	files repository.FileRepository,
	logs repository.AccessLogRepository,
	cache *CacheService,
	logger *slog.Logger,
) *AccessService {
	return &AccessService{
		files:  files,
		logs:   logs,
		cache:  cache,
		logger: logger.With(slog.String("component", "access_service")),
	}
}

// Authorize выполняет полный цикл проверок доступа и, при успехе,
// атомарно увеличивает access_count. Возвращает запись файла.
// Каждая попытка (успех и отказ) фиксируется в журнале доступа.
func (s *AccessService) Authorize(ctx context.Context, req AccessRequest) (*model.FileRecord, error) {
	record, err := s.GetRecord(ctx, req.FileID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.deny(ctx, req, "not_found")
		}
		return nil, err
	}

	if !record.IsActive {
		s.deny(ctx, req, "inactive")
		return nil, ErrFileInactive
	}

	if record.ExpirationDate != nil && record.ExpirationDate.Before(time.Now()) {
		// Автодеактивация: истёкшая запись гасится при первом же обращении,
		// не дожидаясь фоновой очистки. Повторная деактивация — no-op.
		if err := s.files.Deactivate(ctx, record.ID); err != nil {
			s.logger.Error("Ошибка автодеактивации истёкшего файла",
				slog.Int64("file_id", record.ID),
				slog.String("error", err.Error()),
			)
		}
		s.cache.InvalidateRecord(record.ID)
		s.deny(ctx, req, "expired")
		return nil, ErrFileExpired
	}

	if record.DownloadLimited() && record.AccessCount >= *record.MaxDownloads {
		s.deny(ctx, req, "limit_reached")
		return nil, ErrDownloadLimitReached
	}

	if record.PasswordProtected() {
		if req.Password == "" {
			s.deny(ctx, req, "password_required")
			return nil, ErrPasswordRequired
		}
		if err := bcrypt.CompareHashAndPassword([]byte(*record.PasswordHash), []byte(req.Password)); err != nil {
			s.deny(ctx, req, "wrong_password")
			return nil, ErrWrongPassword
		}
	}

	// Атомарный условный инкремент — финальный арбитр лимита.
	// Предварительная проверка выше отсекает очевидные случаи, но при
	// гонке именно rows affected решает, кто получил последний слот.
	ok, err := s.files.IncrementAccessGuarded(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка учёта доступа: %w", err)
	}
	s.cache.InvalidateRecord(record.ID)
	if !ok {
		s.deny(ctx, req, "limit_reached")
		return nil, ErrDownloadLimitReached
	}

	accessChecksTotal.WithLabelValues("granted").Inc()
	s.appendLog(ctx, req, "download", map[string]any{"password_used": req.Password != ""})

	record.AccessCount++
	return record, nil
}

// GetRecord возвращает запись файла из кэша или БД.
func (s *AccessService) GetRecord(ctx context.Context, id int64) (*model.FileRecord, error) {
	if record, ok := s.cache.GetRecord(id); ok {
		return record, nil
	}

	record, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи файла: %w", err)
	}

	s.cache.SetRecord(record)
	return record, nil
}

// deny фиксирует отказ в метриках и журнале.
func (s *AccessService) deny(ctx context.Context, req AccessRequest, reason string) {
	accessChecksTotal.WithLabelValues(reason).Inc()
	s.appendLog(ctx, req, "denied", map[string]any{"reason": reason})
}

// appendLog пишет строку журнала доступа. Сбой журнала не влияет
// на результат проверки.
func (s *AccessService) appendLog(ctx context.Context, req AccessRequest, action string, extra map[string]any) {
	entry := &model.AccessLogEntry{
		FileID:    req.FileID,
		UserID:    req.UserID,
		Action:    action,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		ExtraData: extra,
	}
	if err := s.logs.Append(ctx, entry); err != nil {
		s.logger.Error("Ошибка записи журнала доступа",
			slog.Int64("file_id", req.FileID),
			slog.String("error", err.Error()),
		)
	}
}
