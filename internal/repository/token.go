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

// tokenColumns — столбцы таблицы upload_tokens.
const tokenColumns = `id, token, user_id, metadata, used, used_at, expires_at, created_at`

// TokenRepository — интерфейс доступа к upload_tokens.
type TokenRepository interface {
	// Create вставляет новый токен.
	Create(ctx context.Context, t *model.UploadToken) error
	// GetByToken возвращает токен по строке или ErrNotFound.
	GetByToken(ctx context.Context, token string) (*model.UploadToken, error)
	// MarkUsed выставляет used = true и used_at. Идемпотентна:
	// пишет только если used ещё false.
	MarkUsed(ctx context.Context, token string, usedAt time.Time) error
	// CountCreatedSince считает токены пользователя, созданные
	// начиная с указанного момента (для дневного rate limit).
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
	// DeleteExpiredBefore удаляет токены, истёкшие раньше cutoff
	// (ленивая очистка перед выдачей нового токена).
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// Sweep удаляет истёкшие токены и использованные старше usedCutoff.
	Sweep(ctx context.Context, now, usedCutoff time.Time) (int64, error)
}

// tokenRepo — реализация TokenRepository через pgx.
type tokenRepo struct {
	db DBTX
}

// NewTokenRepository создаёт репозиторий токенов загрузки.
func NewTokenRepository(db DBTX) TokenRepository {
	return &tokenRepo{db: db}
}

// Create вставляет новый токен. Metadata сериализуется в jsonb.
func (r *tokenRepo) Create(ctx context.Context, t *model.UploadToken) error {
	meta, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных токена: %w", err)
	}

	query := `
		INSERT INTO upload_tokens (token, user_id, metadata, used, expires_at, created_at)
		VALUES ($1, $2, $3, false, $4, $5)
		RETURNING id`

	if err := r.db.QueryRow(ctx, query,
		t.Token, t.UserID, meta, t.ExpiresAt, t.CreatedAt,
	).Scan(&t.ID); err != nil {
		return fmt.Errorf("ошибка создания токена загрузки: %w", err)
	}
	return nil
}

// GetByToken возвращает токен по строке или ErrNotFound.
func (r *tokenRepo) GetByToken(ctx context.Context, token string) (*model.UploadToken, error) {
	query := fmt.Sprintf(`SELECT %s FROM upload_tokens WHERE token = $1`, tokenColumns)

	t := &model.UploadToken{}
	var meta []byte
	err := r.db.QueryRow(ctx, query, token).Scan(
		&t.ID, &t.Token, &t.UserID, &meta, &t.Used, &t.UsedAt, &t.ExpiresAt, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения токена: %w", err)
	}

	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return nil, fmt.Errorf("ошибка десериализации метаданных токена: %w", err)
		}
	}
	return t, nil
}

// MarkUsed выставляет used = true при первой валидации.
// Условие used = false делает запись идемпотентной: повторная
// валидация того же токена не перезаписывает used_at.
func (r *tokenRepo) MarkUsed(ctx context.Context, token string, usedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE upload_tokens SET used = true, used_at = $2 WHERE token = $1 AND NOT used`,
		token, usedAt)
	if err != nil {
		return fmt.Errorf("ошибка пометки токена использованным: %w", err)
	}
	return nil
}

// CountCreatedSince считает токены пользователя с указанного момента.
func (r *tokenRepo) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM upload_tokens WHERE user_id = $1 AND created_at >= $2`,
		userID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта токенов пользователя: %w", err)
	}
	return count, nil
}

// DeleteExpiredBefore удаляет токены, истёкшие раньше cutoff.
func (r *tokenRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM upload_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ошибка ленивой очистки токенов: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Sweep удаляет истёкшие токены и использованные старше usedCutoff.
func (r *tokenRepo) Sweep(ctx context.Context, now, usedCutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM upload_tokens WHERE expires_at < $1 OR (used AND used_at < $2)`,
		now, usedCutoff)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки токенов: %w", err)
	}
	return tag.RowsAffected(), nil
}
