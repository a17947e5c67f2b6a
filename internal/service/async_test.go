package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/bigkaa/telestore/internal/config"
	"github.com/bigkaa/telestore/internal/domain/model"
)

type asyncFixture struct {
	svc     *AsyncService
	pending *fakePendingRepo
	files   *fakeFileRepo
	relay   *fakeRelay
	cfg     *config.Config
}

func newAsyncFixture(t *testing.T) *asyncFixture {
	cfg := uploadTestConfig(t)
	cfg.AsyncWorkers = 1
	cfg.AsyncQueueSize = 4

	files := newFakeFileRepo()
	relay := &fakeRelay{}
	splitter := NewSplitter(cfg.PartSize, cfg.TempDir, testLogger())
	uploader := NewUploadService(files, relay, splitter, cfg, testLogger())
	uploader.retry.BaseDelay = time.Millisecond
	pending := newFakePendingRepo()

	return &asyncFixture{
		svc:     NewAsyncService(pending, uploader, cfg, testLogger()),
		pending: pending,
		files:   files,
		relay:   relay,
		cfg:     cfg,
	}
}

func TestAsyncEnqueue(t *testing.T) {
	fx := newAsyncFixture(t)
	content := bytes.Repeat([]byte("x"), 80)

	id, err := fx.svc.Enqueue(context.Background(), bytes.NewReader(content), "doc.pdf", 80, model.UploadMetadata{})
	if err != nil {
		t.Fatalf("Enqueue вернул ошибку: %v", err)
	}

	p, err := fx.pending.GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != model.PendingStatusPending {
		t.Errorf("статус = %q", p.Status)
	}
	if p.FileSize != 80 || p.FileName != "doc.pdf" {
		t.Errorf("задание: %q / %d байт", p.FileName, p.FileSize)
	}

	// Файл заспулен на диск
	data, err := os.ReadFile(p.FilePath)
	if err != nil {
		t.Fatalf("файл спула не создан: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("содержимое спула не совпадает")
	}
}

func TestAsyncEnqueueSizeMismatch(t *testing.T) {
	fx := newAsyncFixture(t)

	_, err := fx.svc.Enqueue(context.Background(), bytes.NewReader([]byte("short")), "f.bin", 100, model.UploadMetadata{})
	if !errors.Is(err, ErrInvalidMetadata) {
		t.Errorf("ожидался отказ по несовпадению размера, получено %v", err)
	}
}

func TestAsyncEnqueueBadMetadata(t *testing.T) {
	fx := newAsyncFixture(t)

	_, err := fx.svc.Enqueue(context.Background(), bytes.NewReader([]byte("data")), "f.bin", 4,
		model.UploadMetadata{ExpirationDate: "мусор"})
	if !errors.Is(err, ErrInvalidMetadata) {
		t.Errorf("метаданные должны валидироваться синхронно, получено %v", err)
	}
}

func TestAsyncProcessCompletes(t *testing.T) {
	fx := newAsyncFixture(t)
	ctx := context.Background()

	id, err := fx.svc.Enqueue(ctx, bytes.NewReader(make([]byte, 80)), "doc.pdf", 80, model.UploadMetadata{})
	if err != nil {
		t.Fatal(err)
	}
	p, _ := fx.pending.GetByID(ctx, id)

	fx.svc.process(ctx, id)

	done, _ := fx.pending.GetByID(ctx, id)
	if done.Status != model.PendingStatusCompleted {
		t.Fatalf("статус = %q, ожидался completed", done.Status)
	}
	if done.Progress != 100 {
		t.Errorf("прогресс = %d, ожидалось 100", done.Progress)
	}
	if len(fx.files.records) != 1 {
		t.Errorf("записей файлов = %d", len(fx.files.records))
	}
	// Спул удаляется после успеха
	if _, err := os.Stat(p.FilePath); !os.IsNotExist(err) {
		t.Error("файл спула не удалён после завершения")
	}
}

func TestAsyncProcessSplitsLargeFile(t *testing.T) {
	fx := newAsyncFixture(t)
	ctx := context.Background()

	// 250 байт при размере части 100 — три документа
	id, err := fx.svc.Enqueue(ctx, bytes.NewReader(make([]byte, 250)), "big.bin", 250, model.UploadMetadata{})
	if err != nil {
		t.Fatal(err)
	}

	fx.svc.process(ctx, id)

	done, _ := fx.pending.GetByID(ctx, id)
	if done.Status != model.PendingStatusCompleted {
		t.Fatalf("статус = %q: %v", done.Status, done.ErrorMessage)
	}
	if len(fx.files.records) != 3 {
		t.Errorf("записей файлов = %d, ожидалось 3", len(fx.files.records))
	}
	if got := fx.relay.sentNames(); len(got) != 3 || got[0] != "big_part1.bin" {
		t.Errorf("отправлено: %v", got)
	}
}

func TestAsyncProcessFailure(t *testing.T) {
	fx := newAsyncFixture(t)
	fx.relay.sendFails = 100 // все попытки — сетевой сбой
	ctx := context.Background()

	id, err := fx.svc.Enqueue(ctx, bytes.NewReader(make([]byte, 80)), "doc.pdf", 80, model.UploadMetadata{})
	if err != nil {
		t.Fatal(err)
	}
	p, _ := fx.pending.GetByID(ctx, id)

	fx.svc.process(ctx, id)

	done, _ := fx.pending.GetByID(ctx, id)
	if done.Status != model.PendingStatusFailed {
		t.Fatalf("статус = %q, ожидался failed", done.Status)
	}
	if done.ErrorMessage == nil {
		t.Error("не сохранён текст ошибки")
	}
	if done.RetryCount != fx.cfg.MaxRetries-1 {
		t.Errorf("retry_count = %d, ожидалось %d", done.RetryCount, fx.cfg.MaxRetries-1)
	}
	// Спул сохраняется для диагностики, его удалит фоновая очистка
	if _, err := os.Stat(p.FilePath); err != nil {
		t.Error("файл спула не должен удаляться при неудаче")
	}
}

func TestAsyncProcessGuard(t *testing.T) {
	fx := newAsyncFixture(t)
	ctx := context.Background()

	id, err := fx.svc.Enqueue(ctx, bytes.NewReader(make([]byte, 80)), "doc.pdf", 80, model.UploadMetadata{})
	if err != nil {
		t.Fatal(err)
	}

	fx.svc.process(ctx, id)
	sentAfterFirst := len(fx.relay.sentNames())

	// Повторная доставка того же id: задание уже не pending — пропуск
	fx.svc.process(ctx, id)
	if len(fx.relay.sentNames()) != sentAfterFirst {
		t.Error("дубликат доставки привёл к повторной отправке")
	}
}

func TestAsyncWorkers(t *testing.T) {
	fx := newAsyncFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx.svc.Start(ctx)

	id, err := fx.svc.Enqueue(ctx, bytes.NewReader(make([]byte, 80)), "doc.pdf", 80, model.UploadMetadata{})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		p, err := fx.svc.Status(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if p.Status == model.PendingStatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("воркер не завершил задание, статус %q", p.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	fx.svc.Stop()
}

func TestAsyncStatusNotFound(t *testing.T) {
	fx := newAsyncFixture(t)
	if _, err := fx.svc.Status(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

func TestSendProgress(t *testing.T) {
	cases := []struct {
		sent, total int64
		want        int
	}{
		{0, 100, 10},
		{50, 100, 45},
		{100, 100, 80},
		{150, 100, 80},
		{0, 0, 10},
	}
	for _, tc := range cases {
		if got := sendProgress(tc.sent, tc.total); got != tc.want {
			t.Errorf("sendProgress(%d, %d) = %d, ожидалось %d", tc.sent, tc.total, got, tc.want)
		}
	}
}
