// janitor.go — фоновая очистка: истёкшие токены, отработанные
// и застрявшие задания очереди, истёкшие файлы, осиротевшие
// файлы спула.
package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/telestore/internal/config"
	"github.com/bigkaa/telestore/internal/repository"
)

// Prometheus-метрики очистки.
var (
	janitorRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ts_janitor_runs_total",
		Help: "Количество запусков фоновой очистки.",
	})
	janitorRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ts_janitor_removed_total",
		Help: "Количество удалённых объектов (по типу).",
	}, []string{"kind"})
)

// Сроки хранения, используемые очисткой.
const (
	// terminalRetention — сколько хранить completed/failed задания
	terminalRetention = 24 * time.Hour
	// stuckThreshold — pending старше этого срока считается застрявшим
	stuckThreshold = time.Hour
	// spoolRetention — сколько хранить осиротевшие файлы спула
	spoolRetention = 24 * time.Hour
)

// Janitor — периодическая фоновая очистка.
type Janitor struct {
	tokens   *TokenService
	pending  repository.PendingRepository
	files    repository.FileRepository
	tempDir  string
	interval time.Duration
	logger   *slog.Logger
}

// NewJanitor создаёт фоновую очистку.
func NewJanitor(
	tokens *TokenService,
	pending repository.PendingRepository,
	files repository.FileRepository,
	cfg *config.Config,
	logger *slog.Logger,
) *Janitor {
	return &Janitor{
		tokens:   tokens,
		pending:  pending,
		files:    files,
		tempDir:  cfg.TempDir,
		interval: cfg.JanitorInterval,
		logger:   logger.With(slog.String("component", "janitor")),
	}
}

// Run запускает цикл очистки до отмены контекста.
// Первый проход выполняется сразу при старте.
func (j *Janitor) Run(ctx context.Context) {
	j.logger.Info("Фоновая очистка запущена", slog.Duration("interval", j.interval))

	j.runOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Фоновая очистка остановлена")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

// runOnce выполняет один проход очистки. Сбой одного шага
// не прерывает остальные.
func (j *Janitor) runOnce(ctx context.Context) {
	janitorRunsTotal.Inc()
	now := time.Now()

	if removed, err := j.tokens.CleanupExpired(ctx); err != nil {
		j.logger.Error("Ошибка очистки токенов", slog.String("error", err.Error()))
	} else if removed > 0 {
		janitorRemovedTotal.WithLabelValues("tokens").Add(float64(removed))
		j.logger.Info("Удалены отработанные токены", slog.Int64("count", removed))
	}

	if removed, err := j.pending.Sweep(ctx, now.Add(-terminalRetention), now.Add(-stuckThreshold)); err != nil {
		j.logger.Error("Ошибка очистки очереди загрузок", slog.String("error", err.Error()))
	} else if removed > 0 {
		janitorRemovedTotal.WithLabelValues("pending").Add(float64(removed))
		j.logger.Info("Удалены отработанные задания очереди", slog.Int64("count", removed))
	}

	if deactivated, err := j.files.DeactivateExpired(ctx); err != nil {
		j.logger.Error("Ошибка деактивации истёкших файлов", slog.String("error", err.Error()))
	} else if deactivated > 0 {
		janitorRemovedTotal.WithLabelValues("expired_files").Add(float64(deactivated))
		j.logger.Info("Деактивированы истёкшие файлы", slog.Int64("count", deactivated))
	}

	j.sweepSpool(now)
}

// sweepSpool удаляет осиротевшие файлы спула: задания к этому моменту
// уже удалены из очереди, файлы остались после failed-загрузок.
func (j *Janitor) sweepSpool(now time.Time) {
	entries, err := os.ReadDir(j.tempDir)
	if err != nil {
		j.logger.Error("Ошибка чтения каталога спула", slog.String("error", err.Error()))
		return
	}

	var removed int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "ts-upload-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < spoolRetention {
			continue
		}
		path := filepath.Join(j.tempDir, entry.Name())
		if err := os.Remove(path); err != nil {
			j.logger.Warn("Не удалось удалить файл спула",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}
	if removed > 0 {
		janitorRemovedTotal.WithLabelValues("spool_files").Add(float64(removed))
		j.logger.Info("Удалены осиротевшие файлы спула", slog.Int("count", removed))
	}
}
