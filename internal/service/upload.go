// upload.go — оркестратор загрузки файлов в Telegram.
// Синхронный путь: файлы до размера части отправляются одним документом,
// большие — разбиваются, и каждая часть становится отдельной записью.
// Отдельный путь SaveFromToken регистрирует файлы, загруженные клиентом
// напрямую в Telegram по одноразовому токену.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/telestore/internal/config"
	"github.com/bigkaa/telestore/internal/domain/model"
	"github.com/bigkaa/telestore/internal/repository"
	"github.com/bigkaa/telestore/internal/telegram"
)

// Ошибки upload service.
var (
	// ErrInvalidMetadata — метаданные загрузки не проходят валидацию.
	ErrInvalidMetadata = errors.New("некорректные метаданные загрузки")
	// ErrFileTooLarge — размер файла превышает лимит прямой загрузки.
	ErrFileTooLarge = errors.New("файл превышает лимит прямой загрузки")
)

// Prometheus-метрики загрузки.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ts_uploads_total",
		Help: "Общее количество загрузок (по режиму и результату).",
	}, []string{"mode", "status"})
	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ts_upload_bytes_total",
		Help: "Общее количество байт, отправленных в Telegram.",
	})
	uploadPartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ts_upload_parts_total",
		Help: "Общее количество отправленных частей разбитых файлов.",
	})
)

// Relay — операции Telegram Bot API, используемые сервисами.
// Реализуется telegram.Client; в тестах подменяется фейком.
type Relay interface {
	SendDocument(ctx context.Context, path, fileName string, progress telegram.ProgressFunc) (*telegram.Document, error)
	GetFile(ctx context.Context, fileID string) (string, error)
	FileURL(filePath string) string
}

// UploadRequest — параметры синхронной загрузки.
type UploadRequest struct {
	// Path — путь к файлу на диске сервера
	Path string
	// FileName — исходное имя файла
	FileName string
	// Size — размер файла в байтах
	Size int64
	// Meta — пользовательские метаданные
	Meta model.UploadMetadata
}

// UploadResult — итог синхронной загрузки.
type UploadResult struct {
	// Records — созданные записи (одна на файл или на каждую часть)
	Records []*model.FileRecord
	// Parts — количество частей (1 для неразбитого файла)
	Parts int
}

// UploadService — оркестратор загрузки.
type UploadService struct {
	files    repository.FileRepository
	relay    Relay
	splitter *Splitter
	retry    RetryPolicy
	partSize int64
	maxSize  int64
	logger   *slog.Logger
}

// NewUploadService создаёт оркестратор загрузки.
func NewUploadService(
	files repository.FileRepository,
	relay Relay,
	splitter *Splitter,
	cfg *config.Config,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		files:    files,
		relay:    relay,
		splitter: splitter,
		retry:    NewRetryPolicy(cfg.MaxRetries),
		partSize: cfg.PartSize,
		maxSize:  cfg.MaxDirectSize,
		logger:   logger.With(slog.String("component", "upload_service")),
	}
}

// Upload выполняет синхронную загрузку: отправка в Telegram и
// создание записей в одном запросе. Файлы больше размера части
// разбиваются, каждая часть получает собственную запись с именем
// base_partN.ext и одинаковыми метаданными.
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	norm, err := normalizeMetadata(req.Meta)
	if err != nil {
		uploadsTotal.WithLabelValues("sync", "invalid").Inc()
		return nil, err
	}

	if req.Size <= s.partSize {
		record, err := s.sendAndRecord(ctx, req.Path, req.FileName, req.Size, norm, nil)
		if err != nil {
			uploadsTotal.WithLabelValues("sync", "error").Inc()
			return nil, err
		}
		uploadsTotal.WithLabelValues("sync", "ok").Inc()
		return &UploadResult{Records: []*model.FileRecord{record}, Parts: 1}, nil
	}

	var records []*model.FileRecord
	parts, err := s.splitter.Split(ctx, req.Path, req.FileName, func(ctx context.Context, p Part) error {
		record, err := s.sendAndRecord(ctx, p.Path, p.Name, p.Size, norm, nil)
		if err != nil {
			return err
		}
		uploadPartsTotal.Inc()
		records = append(records, record)
		return nil
	})
	if err != nil {
		uploadsTotal.WithLabelValues("sync", "error").Inc()
		// Уже созданные записи частей остаются: они указывают
		// на реально отправленные в Telegram документы.
		return nil, fmt.Errorf("загрузка прервана после %d частей: %w", parts, err)
	}

	uploadsTotal.WithLabelValues("sync", "ok").Inc()
	s.logger.Info("Файл загружен по частям",
		slog.String("file_name", req.FileName),
		slog.Int64("size", req.Size),
		slog.Int("parts", parts),
	)
	return &UploadResult{Records: records, Parts: parts}, nil
}

// sendAndRecord отправляет один документ с повторами и создаёт запись.
// Ошибки отправки и ошибки БД различимы по типу: ошибки Telegram
// обёрнуты в telegram.TransportError/ProtocolError.
func (s *UploadService) sendAndRecord(
	ctx context.Context,
	path, fileName string,
	size int64,
	norm normalizedMeta,
	progress telegram.ProgressFunc,
) (*model.FileRecord, error) {
	var doc *telegram.Document
	err := s.retry.Do(ctx,
		func(ctx context.Context) error {
			var sendErr error
			doc, sendErr = s.relay.SendDocument(ctx, path, fileName, progress)
			return sendErr
		},
		telegram.IsRetryable,
		func(attempt int, err error) {
			s.logger.Warn("Повтор отправки документа",
				slog.String("file_name", fileName),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	)
	if err != nil {
		return nil, err
	}
	uploadBytesTotal.Add(float64(size))

	record := norm.newRecord(fileName, size, doc.FileID)
	id, err := s.files.Create(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("документ отправлен (file_id %s), но запись не создана: %w", doc.FileID, err)
	}
	record.ID = id
	return record, nil
}

// SaveFromToken регистрирует файл, загруженный клиентом напрямую.
// Лимит размера проверяется до валидации токена: отказ по размеру
// не тратит токен. Существование file_id проверяется через getFile;
// "file is too big" — штатный случай (файл есть, но больше лимита
// getFile), при успехе фиксируется прямой URL скачивания.
func (s *UploadService) SaveFromToken(
	ctx context.Context,
	token *model.UploadToken,
	telegramFileID, fileName string,
	fileSize int64,
) (*model.FileRecord, error) {
	norm, err := normalizeMetadata(token.Metadata)
	if err != nil {
		uploadsTotal.WithLabelValues("direct", "invalid").Inc()
		return nil, err
	}

	var fileURL *string
	filePath, err := s.relay.GetFile(ctx, telegramFileID)
	switch {
	case err == nil:
		u := s.relay.FileURL(filePath)
		fileURL = &u
	case telegram.IsFileTooBig(err):
		// Файл существует, но недоступен через getFile — скачивание
		// пойдёт через file_url, если клиент его предоставит позже.
	default:
		var pe *telegram.ProtocolError
		if errors.As(err, &pe) {
			uploadsTotal.WithLabelValues("direct", "invalid").Inc()
			return nil, fmt.Errorf("%w: Telegram не подтвердил file_id: %s", ErrInvalidMetadata, pe.Description)
		}
		// Сетевой сбой проверки не блокирует регистрацию
		s.logger.Warn("Не удалось проверить file_id через getFile",
			slog.String("telegram_file_id", telegramFileID),
			slog.String("error", err.Error()),
		)
	}

	record := norm.newRecord(fileName, fileSize, telegramFileID)
	record.FileURL = fileURL

	id, err := s.files.Create(ctx, record)
	if err != nil {
		uploadsTotal.WithLabelValues("direct", "error").Inc()
		return nil, fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	record.ID = id

	uploadsTotal.WithLabelValues("direct", "ok").Inc()
	s.logger.Info("Зарегистрирована прямая загрузка",
		slog.Int64("file_id", id),
		slog.String("file_name", fileName),
		slog.String("user_id", token.UserID),
	)
	return record, nil
}

// MaxDirectSize возвращает лимит размера прямой загрузки.
func (s *UploadService) MaxDirectSize() int64 {
	return s.maxSize
}

// normalizedMeta — метаданные после валидации и нормализации.
type normalizedMeta struct {
	category     *string
	tags         *string
	description  *string
	passwordHash *string
	expiration   *time.Time
	maxDownloads *int
}

// newRecord строит запись файла из нормализованных метаданных.
func (m normalizedMeta) newRecord(fileName string, size int64, telegramFileID string) *model.FileRecord {
	return &model.FileRecord{
		FileName:       fileName,
		FileSize:       size,
		TelegramFileID: telegramFileID,
		Category:       m.category,
		Tags:           m.tags,
		Description:    m.description,
		ExpirationDate: m.expiration,
		PasswordHash:   m.passwordHash,
		MaxDownloads:   m.maxDownloads,
		IsActive:       true,
	}
}

// Форматы даты истечения, принимаемые от клиентов:
// RFC3339 и усечённый формат HTML datetime-local.
var expirationFormats = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04:05"}

// normalizeMetadata валидирует пользовательские метаданные.
// Пустые строки превращаются в NULL, пароль хэшируется bcrypt,
// неположительный max_downloads означает "без лимита".
func normalizeMetadata(meta model.UploadMetadata) (normalizedMeta, error) {
	var norm normalizedMeta

	norm.category = nilIfEmpty(meta.Category)
	norm.tags = nilIfEmpty(meta.Tags)
	norm.description = nilIfEmpty(meta.Description)

	if meta.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(meta.Password), bcrypt.DefaultCost)
		if err != nil {
			return norm, fmt.Errorf("ошибка хэширования пароля: %w", err)
		}
		h := string(hash)
		norm.passwordHash = &h
	}

	if meta.ExpirationDate != "" {
		t, err := parseExpiration(meta.ExpirationDate)
		if err != nil {
			return norm, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
		}
		norm.expiration = &t
	}

	if meta.MaxDownloads > 0 {
		md := meta.MaxDownloads
		norm.maxDownloads = &md
	}

	return norm, nil
}

// parseExpiration разбирает дату истечения в одном из допустимых форматов.
func parseExpiration(s string) (time.Time, error) {
	for _, layout := range expirationFormats {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("нераспознанный формат даты истечения: %q", s)
}

// nilIfEmpty возвращает nil для пустой строки (после trim).
func nilIfEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
