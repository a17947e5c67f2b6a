package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/telestore/internal/domain/model"
)

// pendingColumns — столбцы таблицы pending_uploads.
const pendingColumns = `id, file_path, file_name, file_size, status, progress,
	error_message, retry_count, max_retries, metadata, created_at, updated_at`

// PendingRepository — интерфейс доступа к очереди pending_uploads.
type PendingRepository interface {
	// Create вставляет запись со статусом pending и возвращает id.
	Create(ctx context.Context, p *model.PendingUpload) (int64, error)
	// GetByID возвращает запись по id или ErrNotFound.
	GetByID(ctx context.Context, id int64) (*model.PendingUpload, error)
	// MarkProcessing переводит pending → processing. Возвращает false,
	// если запись уже не в pending (дубликат доставки из очереди) —
	// обработку нужно пропустить.
	MarkProcessing(ctx context.Context, id int64) (bool, error)
	// UpdateProgress выставляет прогресс. Монотонность гарантирована
	// на уровне SQL: значение никогда не уменьшается.
	UpdateProgress(ctx context.Context, id int64, progress int) error
	// IncrementRetry увеличивает retry_count после неудачной попытки.
	IncrementRetry(ctx context.Context, id int64) error
	// Complete переводит в completed с прогрессом 100.
	Complete(ctx context.Context, id int64) error
	// Fail переводит в failed с текстом последней ошибки.
	Fail(ctx context.Context, id int64, errMsg string) error
	// Sweep удаляет терминальные записи старше terminalCutoff и
	// застрявшие pending старше stuckCutoff. Возвращает число удалённых.
	Sweep(ctx context.Context, terminalCutoff, stuckCutoff time.Time) (int64, error)
}

// pendingRepo — реализация PendingRepository через pgx.
type pendingRepo struct {
	db DBTX
}

// NewPendingRepository создаёт репозиторий очереди загрузок.
func NewPendingRepository(db DBTX) PendingRepository {
	return &pendingRepo{db: db}
}

// Create вставляет запись со статусом pending.
func (r *pendingRepo) Create(ctx context.Context, p *model.PendingUpload) (int64, error) {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return 0, fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	query := `
		INSERT INTO pending_uploads (file_path, file_name, file_size, status, max_retries, metadata)
		VALUES ($1, $2, $3, 'pending', $4, $5)
		RETURNING id`

	var id int64
	if err := r.db.QueryRow(ctx, query,
		p.FilePath, p.FileName, p.FileSize, p.MaxRetries, meta,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("ошибка создания записи очереди: %w", err)
	}
	return id, nil
}

// GetByID возвращает запись по id или ErrNotFound.
func (r *pendingRepo) GetByID(ctx context.Context, id int64) (*model.PendingUpload, error) {
	query := fmt.Sprintf(`SELECT %s FROM pending_uploads WHERE id = $1`, pendingColumns)

	p := &model.PendingUpload{}
	var meta []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.FilePath, &p.FileName, &p.FileSize, &p.Status, &p.Progress,
		&p.ErrorMessage, &p.RetryCount, &p.MaxRetries, &meta, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи очереди: %w", err)
	}

	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("ошибка десериализации метаданных: %w", err)
		}
	}
	return p, nil
}

// MarkProcessing — защищённый переход pending → processing.
// Атомарный UPDATE с условием по статусу: при дублирующей доставке
// из очереди второй вызов получит rows affected = 0 и пропустит обработку.
func (r *pendingRepo) MarkProcessing(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE pending_uploads
		 SET status = 'processing', progress = GREATEST(progress, 10), updated_at = now()
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("ошибка перехода в processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateProgress выставляет прогресс, не позволяя ему уменьшаться.
func (r *pendingRepo) UpdateProgress(ctx context.Context, id int64, progress int) error {
	_, err := r.db.Exec(ctx,
		`UPDATE pending_uploads
		 SET progress = GREATEST(progress, $2), updated_at = now()
		 WHERE id = $1 AND status = 'processing'`, id, progress)
	if err != nil {
		return fmt.Errorf("ошибка обновления прогресса: %w", err)
	}
	return nil
}

// IncrementRetry увеличивает retry_count.
func (r *pendingRepo) IncrementRetry(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE pending_uploads SET retry_count = retry_count + 1, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка инкремента retry_count: %w", err)
	}
	return nil
}

// Complete переводит запись в completed с прогрессом 100.
func (r *pendingRepo) Complete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE pending_uploads
		 SET status = 'completed', progress = 100, updated_at = now()
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка завершения записи очереди: %w", err)
	}
	return nil
}

// Fail переводит запись в failed. Запись остаётся failed навсегда:
// повторная постановка в очередь не поддерживается.
func (r *pendingRepo) Fail(ctx context.Context, id int64, errMsg string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE pending_uploads
		 SET status = 'failed', error_message = $2, updated_at = now()
		 WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("ошибка пометки записи очереди как failed: %w", err)
	}
	return nil
}

// Sweep удаляет терминальные записи (completed/failed) старше
// terminalCutoff и застрявшие pending старше stuckCutoff.
func (r *pendingRepo) Sweep(ctx context.Context, terminalCutoff, stuckCutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM pending_uploads
		 WHERE (status IN ('completed', 'failed') AND created_at < $1)
		    OR (status = 'pending' AND created_at < $2)`,
		terminalCutoff, stuckCutoff)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки очереди: %w", err)
	}
	return tag.RowsAffected(), nil
}
