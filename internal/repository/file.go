package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/telestore/internal/domain/model"
)

// fileColumns — список столбцов таблицы file_records для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const fileColumns = `id, file_name, file_size, telegram_file_id, file_url,
	category, tags, description, download_count, access_count,
	expiration_date, password_hash, max_downloads, is_active, created_at`

// ListParams — параметры листинга файлов.
// Nil-поля — фильтр не применяется.
type ListParams struct {
	// Category — фильтр по категории (exact match)
	Category *string
	// Tag — фильтр по тегу (подстрока в comma-joined tags)
	Tag *string
	// ActiveOnly — только активные записи
	ActiveOnly bool
	// Limit — количество результатов
	Limit int
	// Offset — смещение
	Offset int
}

// FileStats — агрегированная статистика по файлам.
type FileStats struct {
	// TotalFiles — всего записей
	TotalFiles int
	// TotalSize — суммарный размер в байтах
	TotalSize int64
	// TotalDownloads — сумма download_count
	TotalDownloads int
	// FilesWithDownloads — записи хотя бы с одним скачиванием
	FilesWithDownloads int
}

// FileRepository — интерфейс доступа к file_records.
type FileRepository interface {
	// Create вставляет запись и возвращает присвоенный id.
	Create(ctx context.Context, f *model.FileRecord) (int64, error)
	// GetByID возвращает запись по id или ErrNotFound.
	GetByID(ctx context.Context, id int64) (*model.FileRecord, error)
	// List возвращает страницу записей и общее количество.
	List(ctx context.Context, params ListParams) ([]*model.FileRecord, int, error)
	// Delete удаляет запись (явное административное удаление).
	Delete(ctx context.Context, id int64) error
	// Deactivate выставляет is_active = false. Идемпотентна:
	// повторный вызов для уже деактивированной записи — не ошибка.
	Deactivate(ctx context.Context, id int64) error
	// IncrementAccessGuarded атомарно увеличивает access_count, только
	// если лимит скачиваний ещё не достигнут. Возвращает false, если
	// условие не выполнено (лимит исчерпан под гонкой или запись неактивна).
	IncrementAccessGuarded(ctx context.Context, id int64) (bool, error)
	// IncrementDownload увеличивает download_count (после начала стриминга).
	IncrementDownload(ctx context.Context, id int64) error
	// DeactivateExpired массово деактивирует записи с истёкшим сроком.
	// Возвращает количество затронутых строк.
	DeactivateExpired(ctx context.Context) (int64, error)
	// Stats возвращает агрегированную статистику.
	Stats(ctx context.Context) (*FileStats, error)
}

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// Create вставляет запись файла и возвращает присвоенный id.
func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) (int64, error) {
	query := `
		INSERT INTO file_records (
			file_name, file_size, telegram_file_id, file_url,
			category, tags, description,
			expiration_date, password_hash, max_downloads, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	var id int64
	err := r.db.QueryRow(ctx, query,
		f.FileName, f.FileSize, f.TelegramFileID, f.FileURL,
		f.Category, f.Tags, f.Description,
		f.ExpirationDate, f.PasswordHash, f.MaxDownloads, f.IsActive,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return id, nil
}

// GetByID возвращает запись по id или ErrNotFound.
func (r *fileRepo) GetByID(ctx context.Context, id int64) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM file_records WHERE id = $1`, fileColumns)

	f := &model.FileRecord{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&f.ID, &f.FileName, &f.FileSize, &f.TelegramFileID, &f.FileURL,
		&f.Category, &f.Tags, &f.Description, &f.DownloadCount, &f.AccessCount,
		&f.ExpirationDate, &f.PasswordHash, &f.MaxDownloads, &f.IsActive, &f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи файла: %w", err)
	}
	return f, nil
}

// List возвращает страницу записей с фильтрами и общее количество.
func (r *fileRepo) List(ctx context.Context, params ListParams) ([]*model.FileRecord, int, error) {
	where, args := buildListWhere(params)
	argNum := len(args) + 1

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM file_records %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		fileColumns, where, argNum, argNum+1,
	)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка листинга файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f := &model.FileRecord{}
		if err := rows.Scan(
			&f.ID, &f.FileName, &f.FileSize, &f.TelegramFileID, &f.FileURL,
			&f.Category, &f.Tags, &f.Description, &f.DownloadCount, &f.AccessCount,
			&f.ExpirationDate, &f.PasswordHash, &f.MaxDownloads, &f.IsActive, &f.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования записи файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	countWhere, countArgs := buildListWhere(params)
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM file_records %s`, countWhere)

	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}

	return result, total, nil
}

// Delete удаляет запись файла.
func (r *fileRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM file_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate выставляет is_active = false (автодеактивация при истечении
// срока или ручная). Идемпотентна: ноль затронутых строк — не ошибка.
func (r *fileRepo) Deactivate(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE file_records SET is_active = false WHERE id = $1 AND is_active`, id)
	if err != nil {
		return fmt.Errorf("ошибка деактивации записи файла: %w", err)
	}
	return nil
}

// IncrementAccessGuarded — атомарный условный инкремент access_count.
// Одним UPDATE вместо check-then-increment: при конкурентных запросах
// лимит не может быть превышен — условие и инкремент в одном операторе,
// результат определяется по rows affected.
func (r *fileRepo) IncrementAccessGuarded(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE file_records
		SET access_count = access_count + 1
		WHERE id = $1
		  AND is_active
		  AND (max_downloads IS NULL OR max_downloads <= 0 OR access_count < max_downloads)`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("ошибка инкремента access_count: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementDownload увеличивает download_count. Вызывается один раз
// после успешного начала стриминга, отдельно от access_count.
func (r *fileRepo) IncrementDownload(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE file_records SET download_count = download_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка инкремента download_count: %w", err)
	}
	return nil
}

// DeactivateExpired массово деактивирует записи с истёкшим expiration_date.
// Используется фоновой очисткой; проверка при скачивании выполняет то же
// самое лениво для отдельной записи.
func (r *fileRepo) DeactivateExpired(ctx context.Context) (int64, error) {
	query := `
		UPDATE file_records
		SET is_active = false
		WHERE expiration_date IS NOT NULL
		  AND expiration_date < now()
		  AND is_active`

	tag, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("ошибка массовой деактивации: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats возвращает агрегированную статистику по файлам.
func (r *fileRepo) Stats(ctx context.Context) (*FileStats, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(file_size), 0),
		       COALESCE(SUM(download_count), 0),
		       COUNT(*) FILTER (WHERE download_count > 0)
		FROM file_records`

	s := &FileStats{}
	err := r.db.QueryRow(ctx, query).Scan(
		&s.TotalFiles, &s.TotalSize, &s.TotalDownloads, &s.FilesWithDownloads,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}
	return s, nil
}

// buildListWhere строит WHERE-условие и аргументы для листинга файлов.
func buildListWhere(params ListParams) (whereClause string, args []any) {
	var conditions []string
	argNum := 1

	if params.Category != nil && *params.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argNum))
		args = append(args, *params.Category)
		argNum++
	}

	if params.Tag != nil && *params.Tag != "" {
		conditions = append(conditions, fmt.Sprintf("tags ILIKE $%d", argNum))
		args = append(args, "%"+*params.Tag+"%")
		argNum++
	}

	if params.ActiveOnly {
		conditions = append(conditions, "is_active")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}
