// Пакет model — доменные модели telestore.
// FileRecord — маппинг таблицы file_records (один загруженный файл
// или одна часть разбитого файла).
package model

import "time"

// FileRecord — запись файла в file_records.
// При разбиении большого файла каждая часть — отдельная запись
// с именем {base}_part{N}{.ext}; связующего поля нет, склейка вручную.
type FileRecord struct {
	// ID — числовой идентификатор (bigserial)
	ID int64
	// FileName — отображаемое имя файла (для Content-Disposition)
	FileName string
	// FileSize — размер в байтах
	FileSize int64
	// TelegramFileID — opaque file_id из Telegram Bot API
	TelegramFileID string
	// FileURL — прямой URL файла, если был получен при загрузке.
	// Fallback для больших файлов, когда getFile отвечает "file is too big".
	FileURL *string
	// Category — категория файла (опционально)
	Category *string
	// Tags — теги через запятую (опционально)
	Tags *string
	// Description — описание (опционально)
	Description *string
	// DownloadCount — количество успешно начатых скачиваний
	DownloadCount int
	// AccessCount — количество пройденных проверок доступа.
	// Отдельный счётчик от DownloadCount: лимит скачиваний
	// (MaxDownloads) применяется именно к нему.
	AccessCount int
	// ExpirationDate — срок действия (nil — бессрочно)
	ExpirationDate *time.Time
	// PasswordHash — bcrypt-хэш пароля (nil — пароль не требуется)
	PasswordHash *string
	// MaxDownloads — лимит скачиваний (nil или <=0 — без лимита)
	MaxDownloads *int
	// IsActive — false после истечения срока или ручной деактивации
	IsActive bool
	// CreatedAt — время создания записи
	CreatedAt time.Time
}

// PasswordProtected сообщает, требуется ли пароль для скачивания.
func (f *FileRecord) PasswordProtected() bool {
	return f.PasswordHash != nil && *f.PasswordHash != ""
}

// DownloadLimited сообщает, установлен ли лимит скачиваний.
func (f *FileRecord) DownloadLimited() bool {
	return f.MaxDownloads != nil && *f.MaxDownloads > 0
}
