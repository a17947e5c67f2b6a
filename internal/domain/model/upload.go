// upload.go — модели загрузки: метаданные, одноразовые токены,
// очередь отложенных загрузок, журнал доступа.
package model

import "time"

// UploadMetadata — метаданные, передаваемые при загрузке.
// Сохраняются в upload_tokens.metadata (jsonb) и превращаются
// в access-control поля FileRecord при создании записи.
type UploadMetadata struct {
	// Category — категория файла
	Category string `json:"category,omitempty"`
	// Tags — теги через запятую
	Tags string `json:"tags,omitempty"`
	// Description — описание
	Description string `json:"description,omitempty"`
	// Password — пароль открытым текстом; хэшируется при сохранении
	// записи и никогда не попадает в file_records как есть
	Password string `json:"password,omitempty"`
	// ExpirationDate — срок действия (RFC3339 или 2006-01-02T15:04)
	ExpirationDate string `json:"expiration_date,omitempty"`
	// MaxDownloads — лимит скачиваний (<=0 — без лимита)
	MaxDownloads int `json:"max_downloads,omitempty"`
}

// UploadToken — одноразовый токен прямой загрузки клиента в Telegram.
// Токен считается действительным пока now < ExpiresAt; повторное
// использование в пределах срока допускается (ретраи клиента).
type UploadToken struct {
	// ID — числовой идентификатор
	ID int64
	// Token — 64-символьная hex-строка (32 байта энтропии)
	Token string
	// UserID — владелец токена (sub из JWT)
	UserID string
	// Metadata — метаданные будущей записи файла
	Metadata UploadMetadata
	// Used — выставляется при первой успешной валидации
	Used bool
	// UsedAt — время первой валидации
	UsedAt *time.Time
	// ExpiresAt — создание + TTL (30 минут)
	ExpiresAt time.Time
	// CreatedAt — время выдачи
	CreatedAt time.Time
}

// Статусы PendingUpload. Переходы монотонны:
// pending → processing → completed|failed. Failed не перезапускается.
const (
	PendingStatusPending    = "pending"
	PendingStatusProcessing = "processing"
	PendingStatusCompleted  = "completed"
	PendingStatusFailed     = "failed"
)

// PendingUpload — запись очереди фоновой загрузки.
type PendingUpload struct {
	// ID — числовой идентификатор
	ID int64
	// FilePath — путь к спул-файлу во временном каталоге
	FilePath string
	// FileName — оригинальное имя файла
	FileName string
	// FileSize — размер в байтах
	FileSize int64
	// Status — pending, processing, completed, failed
	Status string
	// Progress — процент 0-100, не убывает во время processing
	Progress int
	// ErrorMessage — текст последней ошибки (для failed)
	ErrorMessage *string
	// RetryCount — число выполненных попыток отправки
	RetryCount int
	// MaxRetries — предел попыток (по умолчанию 3)
	MaxRetries int
	// Metadata — метаданные будущей записи файла
	Metadata UploadMetadata
	// CreatedAt / UpdatedAt — времена создания и последнего изменения
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccessLogEntry — строка журнала попыток доступа. Append-only.
type AccessLogEntry struct {
	// ID — числовой идентификатор
	ID int64
	// FileID — идентификатор записи файла
	FileID int64
	// UserID — пользователь, если аутентифицирован
	UserID *string
	// Action — тег действия (download, view, ...)
	Action string
	// IPAddress — IP клиента
	IPAddress string
	// UserAgent — User-Agent клиента
	UserAgent string
	// ExtraData — произвольные дополнительные данные
	ExtraData map[string]any
	// AccessTime — время попытки
	AccessTime time.Time
}
