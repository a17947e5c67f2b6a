package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/telestore/internal/domain/model"
	"github.com/bigkaa/telestore/internal/repository"
)

func newCatalogFixture() (*CatalogService, *fakeFileRepo, *fakeLogRepo) {
	files := newFakeFileRepo()
	logs := &fakeLogRepo{}
	cache := NewCacheService(16, time.Minute, time.Minute)
	return NewCatalogService(files, logs, cache, testLogger()), files, logs
}

// TestCatalogList проверяет листинг и нормализацию пагинации.
func TestCatalogList(t *testing.T) {
	svc, files, _ := newCatalogFixture()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		files.add(&model.FileRecord{
			FileName:       "doc.txt",
			FileSize:       100,
			TelegramFileID: "tg-1",
			IsActive:       true,
		})
	}

	records, total, err := svc.List(ctx, repository.ListParams{})
	if err != nil {
		t.Fatalf("List() вернул ошибку: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, ожидалось 3", total)
	}
	if len(records) != 3 {
		t.Errorf("len(records) = %d, ожидалось 3", len(records))
	}
}

// TestCatalogGet проверяет получение карточки и ErrNotFound.
func TestCatalogGet(t *testing.T) {
	svc, files, _ := newCatalogFixture()
	ctx := context.Background()

	rec := files.add(&model.FileRecord{
		FileName:       "doc.txt",
		FileSize:       100,
		TelegramFileID: "tg-1",
		IsActive:       true,
	})

	got, err := svc.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() вернул ошибку: %v", err)
	}
	if got.FileName != "doc.txt" {
		t.Errorf("FileName = %q, ожидалось doc.txt", got.FileName)
	}

	if _, err := svc.Get(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(9999) err = %v, ожидался ErrNotFound", err)
	}
}

// TestCatalogDelete проверяет удаление записи и инвалидацию кэша.
func TestCatalogDelete(t *testing.T) {
	svc, files, _ := newCatalogFixture()
	ctx := context.Background()

	rec := files.add(&model.FileRecord{
		FileName:       "doc.txt",
		FileSize:       100,
		TelegramFileID: "tg-1",
		IsActive:       true,
	})

	if err := svc.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete() вернул ошибку: %v", err)
	}
	if _, err := svc.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("после Delete запись должна отсутствовать, err = %v", err)
	}

	if err := svc.Delete(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный Delete err = %v, ожидался ErrNotFound", err)
	}
}

// TestCatalogDeactivate проверяет деактивацию без удаления.
func TestCatalogDeactivate(t *testing.T) {
	svc, files, _ := newCatalogFixture()
	ctx := context.Background()

	rec := files.add(&model.FileRecord{
		FileName:       "doc.txt",
		FileSize:       100,
		TelegramFileID: "tg-1",
		IsActive:       true,
	})

	if err := svc.Deactivate(ctx, rec.ID); err != nil {
		t.Fatalf("Deactivate() вернул ошибку: %v", err)
	}

	got, err := svc.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() вернул ошибку: %v", err)
	}
	if got.IsActive {
		t.Error("запись должна быть неактивной после Deactivate")
	}
}

// TestCatalogStats проверяет агрегированную статистику.
func TestCatalogStats(t *testing.T) {
	svc, files, _ := newCatalogFixture()
	ctx := context.Background()

	files.add(&model.FileRecord{FileName: "a", FileSize: 100, TelegramFileID: "tg-1", IsActive: true})
	b := files.add(&model.FileRecord{FileName: "b", FileSize: 200, TelegramFileID: "tg-2", IsActive: true})
	b.DownloadCount = 5

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() вернул ошибку: %v", err)
	}
	if stats.TotalFiles != 2 {
		t.Errorf("TotalFiles = %d, ожидалось 2", stats.TotalFiles)
	}
	if stats.TotalSize != 300 {
		t.Errorf("TotalSize = %d, ожидалось 300", stats.TotalSize)
	}
	if stats.TotalDownloads != 5 {
		t.Errorf("TotalDownloads = %d, ожидалось 5", stats.TotalDownloads)
	}
	if stats.FilesWithDownloads != 1 {
		t.Errorf("FilesWithDownloads = %d, ожидалось 1", stats.FilesWithDownloads)
	}
}

// TestCatalogAccessHistory проверяет журнал доступа к файлу.
func TestCatalogAccessHistory(t *testing.T) {
	svc, files, logs := newCatalogFixture()
	ctx := context.Background()

	rec := files.add(&model.FileRecord{
		FileName:       "doc.txt",
		FileSize:       100,
		TelegramFileID: "tg-1",
		IsActive:       true,
	})

	_ = logs.Append(ctx, &model.AccessLogEntry{FileID: rec.ID, Action: "granted"})
	_ = logs.Append(ctx, &model.AccessLogEntry{FileID: rec.ID, Action: "denied"})

	entries, err := svc.AccessHistory(ctx, rec.ID, 0)
	if err != nil {
		t.Fatalf("AccessHistory() вернул ошибку: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("len(entries) = %d, ожидалось 2", len(entries))
	}

	if _, err := svc.AccessHistory(ctx, 9999, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("AccessHistory(9999) err = %v, ожидался ErrNotFound", err)
	}
}
