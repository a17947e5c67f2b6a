// catalog.go — каталог файлов: листинг, карточка, удаление,
// агрегированная статистика, журнал доступа.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/telestore/internal/domain/model"
	"github.com/bigkaa/telestore/internal/repository"
)

// CatalogService — операции над каталогом файлов.
type CatalogService struct {
	files  repository.FileRepository
	logs   repository.AccessLogRepository
	cache  *CacheService
	logger *slog.Logger
}

// NewCatalogService создаёт сервис каталога.
func NewCatalogService(
	files repository.FileRepository,
	logs repository.AccessLogRepository,
	cache *CacheService,
	logger *slog.Logger,
) *CatalogService {
	return &CatalogService{
		files:  files,
		logs:   logs,
		cache:  cache,
		logger: logger.With(slog.String("component", "catalog_service")),
	}
}

// List возвращает страницу каталога и общее количество записей.
func (s *CatalogService) List(ctx context.Context, params repository.ListParams) ([]*model.FileRecord, int, error) {
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 50
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	return s.files.List(ctx, params)
}

// Get возвращает запись файла по id.
func (s *CatalogService) Get(ctx context.Context, id int64) (*model.FileRecord, error) {
	record, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи файла: %w", err)
	}
	return record, nil
}

// Delete удаляет запись файла и инвалидирует кэш.
// Сам документ в Telegram не трогается: Bot API не поддерживает
// удаление отправленных файлов.
func (s *CatalogService) Delete(ctx context.Context, id int64) error {
	if err := s.files.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка удаления записи файла: %w", err)
	}
	s.cache.InvalidateRecord(id)
	s.logger.Info("Запись файла удалена", slog.Int64("file_id", id))
	return nil
}

// Deactivate деактивирует запись без удаления.
func (s *CatalogService) Deactivate(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.files.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("ошибка деактивации записи файла: %w", err)
	}
	s.cache.InvalidateRecord(id)
	return nil
}

// Stats возвращает агрегированную статистику каталога.
func (s *CatalogService) Stats(ctx context.Context) (*repository.FileStats, error) {
	return s.files.Stats(ctx)
}

// AccessHistory возвращает последние записи журнала доступа к файлу.
func (s *CatalogService) AccessHistory(ctx context.Context, fileID int64, limit int) ([]*model.AccessLogEntry, error) {
	if _, err := s.Get(ctx, fileID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.logs.ListByFile(ctx, fileID, limit)
}
