// Пакет service — бизнес-логика telestore.
// CacheService — LRU-кэши с TTL поверх hashicorp/golang-lru/v2/expirable:
// метаданные файлов (короткий TTL) и file_path Telegram (длинный TTL,
// путь стабилен для file_id).
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/telestore/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ts_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш (по типу кэша).",
	}, []string{"cache"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ts_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша (по типу кэша).",
	}, []string{"cache"})
)

// CacheService — in-memory кэши инстанса. Каждый экземпляр сервиса
// держит собственные кэши, инвалидация — только локальная.
type CacheService struct {
	records   *expirable.LRU[int64, *model.FileRecord]
	filePaths *expirable.LRU[string, string]
}

// NewCacheService создаёт кэши.
// maxSize — максимум записей в каждом кэше.
// recordTTL — время жизни записи метаданных.
// filePathTTL — время жизни соответствия telegram_file_id → file_path.
func NewCacheService(maxSize int, recordTTL, filePathTTL time.Duration) *CacheService {
	return &CacheService{
		records:   expirable.NewLRU[int64, *model.FileRecord](maxSize, nil, recordTTL),
		filePaths: expirable.NewLRU[string, string](maxSize, nil, filePathTTL),
	}
}

// GetRecord возвращает FileRecord из кэша по id.
// Кэш хранит и отдаёт копии: вызывающий может менять счётчики своей
// копии, не разделяя запись с конкурентными запросами.
func (c *CacheService) GetRecord(id int64) (*model.FileRecord, bool) {
	val, ok := c.records.Get(id)
	if ok {
		cacheHitsTotal.WithLabelValues("record").Inc()
		clone := *val
		return &clone, true
	}
	cacheMissesTotal.WithLabelValues("record").Inc()
	return nil, false
}

// SetRecord добавляет или обновляет запись метаданных.
func (c *CacheService) SetRecord(record *model.FileRecord) {
	clone := *record
	c.records.Add(record.ID, &clone)
}

// InvalidateRecord удаляет запись метаданных (после изменения счётчиков
// или деактивации — чтобы не отдавать устаревшие значения).
func (c *CacheService) InvalidateRecord(id int64) {
	c.records.Remove(id)
}

// GetFilePath возвращает file_path Telegram по telegram_file_id.
func (c *CacheService) GetFilePath(telegramFileID string) (string, bool) {
	val, ok := c.filePaths.Get(telegramFileID)
	if ok {
		cacheHitsTotal.WithLabelValues("file_path").Inc()
		return val, true
	}
	cacheMissesTotal.WithLabelValues("file_path").Inc()
	return "", false
}

// SetFilePath запоминает соответствие telegram_file_id → file_path.
func (c *CacheService) SetFilePath(telegramFileID, filePath string) {
	c.filePaths.Add(telegramFileID, filePath)
}
