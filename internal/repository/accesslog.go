package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bigkaa/telestore/internal/domain/model"
)

// AccessLogRepository — журналы доступа и аналитика скачиваний.
// Обе таблицы append-only: строки никогда не изменяются и не удаляются
// обычной работой сервиса.
type AccessLogRepository interface {
	// Append добавляет строку в access_logs (каждая попытка доступа).
	Append(ctx context.Context, e *model.AccessLogEntry) error
	// AppendDownload добавляет строку в download_analytics
	// (одна строка на успешно начатый стриминг).
	AppendDownload(ctx context.Context, fileID int64, userID *string, ip, userAgent string) error
	// ListByFile возвращает последние записи журнала по файлу.
	ListByFile(ctx context.Context, fileID int64, limit int) ([]*model.AccessLogEntry, error)
}

// accessLogRepo — реализация AccessLogRepository через pgx.
type accessLogRepo struct {
	db DBTX
}

// NewAccessLogRepository создаёт репозиторий журналов доступа.
func NewAccessLogRepository(db DBTX) AccessLogRepository {
	return &accessLogRepo{db: db}
}

// Append добавляет строку журнала доступа.
func (r *accessLogRepo) Append(ctx context.Context, e *model.AccessLogEntry) error {
	var extra []byte
	if len(e.ExtraData) > 0 {
		var err error
		extra, err = json.Marshal(e.ExtraData)
		if err != nil {
			return fmt.Errorf("ошибка сериализации extra_data: %w", err)
		}
	}

	query := `
		INSERT INTO access_logs (file_id, user_id, action, ip_address, user_agent, extra_data)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.db.Exec(ctx, query,
		e.FileID, e.UserID, e.Action, e.IPAddress, e.UserAgent, extra,
	); err != nil {
		return fmt.Errorf("ошибка записи журнала доступа: %w", err)
	}
	return nil
}

// AppendDownload добавляет строку аналитики скачивания.
func (r *accessLogRepo) AppendDownload(ctx context.Context, fileID int64, userID *string, ip, userAgent string) error {
	query := `
		INSERT INTO download_analytics (file_id, user_id, ip_address, user_agent)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.db.Exec(ctx, query, fileID, userID, ip, userAgent); err != nil {
		return fmt.Errorf("ошибка записи аналитики скачивания: %w", err)
	}
	return nil
}

// ListByFile возвращает последние записи журнала по файлу.
func (r *accessLogRepo) ListByFile(ctx context.Context, fileID int64, limit int) ([]*model.AccessLogEntry, error) {
	query := `
		SELECT id, file_id, user_id, action, ip_address, user_agent, extra_data, access_time
		FROM access_logs
		WHERE file_id = $1
		ORDER BY access_time DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, fileID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала доступа: %w", err)
	}
	defer rows.Close()

	var result []*model.AccessLogEntry
	for rows.Next() {
		e := &model.AccessLogEntry{}
		var extra []byte
		if err := rows.Scan(
			&e.ID, &e.FileID, &e.UserID, &e.Action, &e.IPAddress, &e.UserAgent, &extra, &e.AccessTime,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования журнала доступа: %w", err)
		}
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &e.ExtraData); err != nil {
				return nil, fmt.Errorf("ошибка десериализации extra_data: %w", err)
			}
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации журнала доступа: %w", err)
	}
	return result, nil
}
