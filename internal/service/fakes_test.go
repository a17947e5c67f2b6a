package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bigkaa/telestore/internal/domain/model"
	"github.com/bigkaa/telestore/internal/repository"
	"github.com/bigkaa/telestore/internal/telegram"
)

// testLogger — slog без вывода для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakeFileRepo ---

type fakeFileRepo struct {
	mu        sync.Mutex
	nextID    int64
	records   map[int64]*model.FileRecord
	createErr error
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{records: make(map[int64]*model.FileRecord)}
}

func (r *fakeFileRepo) add(f *model.FileRecord) *model.FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	f.ID = r.nextID
	f.CreatedAt = time.Now()
	r.records[f.ID] = f
	return f
}

func (r *fakeFileRepo) Create(_ context.Context, f *model.FileRecord) (int64, error) {
	if r.createErr != nil {
		return 0, r.createErr
	}
	return r.add(f).ID, nil
}

func (r *fakeFileRepo) GetByID(_ context.Context, id int64) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *f
	return &clone, nil
}

func (r *fakeFileRepo) List(_ context.Context, params repository.ListParams) ([]*model.FileRecord, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.FileRecord
	for _, f := range r.records {
		if params.ActiveOnly && !f.IsActive {
			continue
		}
		clone := *f
		result = append(result, &clone)
	}
	return result, len(result), nil
}

func (r *fakeFileRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *fakeFileRepo) Deactivate(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.records[id]; ok {
		f.IsActive = false
	}
	return nil
}

func (r *fakeFileRepo) IncrementAccessGuarded(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.records[id]
	if !ok || !f.IsActive {
		return false, nil
	}
	if f.MaxDownloads != nil && *f.MaxDownloads > 0 && f.AccessCount >= *f.MaxDownloads {
		return false, nil
	}
	f.AccessCount++
	return true, nil
}

func (r *fakeFileRepo) IncrementDownload(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.records[id]; ok {
		f.DownloadCount++
	}
	return nil
}

func (r *fakeFileRepo) DeactivateExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for _, f := range r.records {
		if f.IsActive && f.ExpirationDate != nil && f.ExpirationDate.Before(now) {
			f.IsActive = false
			n++
		}
	}
	return n, nil
}

func (r *fakeFileRepo) Stats(_ context.Context) (*repository.FileStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &repository.FileStats{}
	for _, f := range r.records {
		s.TotalFiles++
		s.TotalSize += f.FileSize
		s.TotalDownloads += f.DownloadCount
		if f.DownloadCount > 0 {
			s.FilesWithDownloads++
		}
	}
	return s, nil
}

// --- fakeTokenRepo ---

type fakeTokenRepo struct {
	mu     sync.Mutex
	nextID int64
	tokens map[string]*model.UploadToken
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]*model.UploadToken)}
}

func (r *fakeTokenRepo) Create(_ context.Context, t *model.UploadToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t.ID = r.nextID
	clone := *t
	r.tokens[t.Token] = &clone
	return nil
}

func (r *fakeTokenRepo) GetByToken(_ context.Context, token string) (*model.UploadToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (r *fakeTokenRepo) MarkUsed(_ context.Context, token string, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[token]; ok && !t.Used {
		t.Used = true
		t.UsedAt = &usedAt
	}
	return nil
}

func (r *fakeTokenRepo) CountCreatedSince(_ context.Context, userID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, t := range r.tokens {
		if t.UserID == userID && !t.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeTokenRepo) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, t := range r.tokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

func (r *fakeTokenRepo) Sweep(_ context.Context, now, usedCutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, t := range r.tokens {
		if t.ExpiresAt.Before(now) || (t.Used && t.UsedAt != nil && t.UsedAt.Before(usedCutoff)) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

// --- fakePendingRepo ---

type fakePendingRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.PendingUpload
}

func newFakePendingRepo() *fakePendingRepo {
	return &fakePendingRepo{rows: make(map[int64]*model.PendingUpload)}
}

func (r *fakePendingRepo) Create(_ context.Context, p *model.PendingUpload) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	p.Status = model.PendingStatusPending
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	clone := *p
	r.rows[p.ID] = &clone
	return p.ID, nil
}

func (r *fakePendingRepo) GetByID(_ context.Context, id int64) (*model.PendingUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *fakePendingRepo) MarkProcessing(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok || p.Status != model.PendingStatusPending {
		return false, nil
	}
	p.Status = model.PendingStatusProcessing
	if p.Progress < 10 {
		p.Progress = 10
	}
	return true, nil
}

func (r *fakePendingRepo) UpdateProgress(_ context.Context, id int64, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.rows[id]; ok && p.Status == model.PendingStatusProcessing && progress > p.Progress {
		p.Progress = progress
	}
	return nil
}

func (r *fakePendingRepo) IncrementRetry(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.rows[id]; ok {
		p.RetryCount++
	}
	return nil
}

func (r *fakePendingRepo) Complete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.rows[id]; ok {
		p.Status = model.PendingStatusCompleted
		p.Progress = 100
	}
	return nil
}

func (r *fakePendingRepo) Fail(_ context.Context, id int64, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.rows[id]; ok {
		p.Status = model.PendingStatusFailed
		p.ErrorMessage = &errMsg
	}
	return nil
}

func (r *fakePendingRepo) Sweep(_ context.Context, terminalCutoff, stuckCutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, p := range r.rows {
		terminal := p.Status == model.PendingStatusCompleted || p.Status == model.PendingStatusFailed
		if (terminal && p.CreatedAt.Before(terminalCutoff)) ||
			(p.Status == model.PendingStatusPending && p.CreatedAt.Before(stuckCutoff)) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

// --- fakeLogRepo ---

type fakeLogRepo struct {
	mu        sync.Mutex
	entries   []*model.AccessLogEntry
	downloads int
}

func (r *fakeLogRepo) Append(_ context.Context, e *model.AccessLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *e
	r.entries = append(r.entries, &clone)
	return nil
}

func (r *fakeLogRepo) AppendDownload(_ context.Context, _ int64, _ *string, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloads++
	return nil
}

func (r *fakeLogRepo) ListByFile(_ context.Context, fileID int64, _ int) ([]*model.AccessLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.AccessLogEntry
	for _, e := range r.entries {
		if e.FileID == fileID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (r *fakeLogRepo) lastAction() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return ""
	}
	return r.entries[len(r.entries)-1].Action
}

// --- fakeRelay ---

// fakeRelay реализует Relay и Fetcher.
type fakeRelay struct {
	mu sync.Mutex
	// sendFails — сколько первых вызовов SendDocument завершить сетевой ошибкой
	sendFails int
	// sendErr — постоянная ошибка SendDocument (приоритетнее sendFails)
	sendErr error
	// getFileErr — ошибка GetFile
	getFileErr error
	// getFileCalls — счётчик вызовов GetFile
	getFileCalls int
	// filePath — результат GetFile
	filePath string
	// fetchBody — содержимое, отдаваемое Fetch
	fetchBody []byte
	// fetchErr — ошибка Fetch
	fetchErr error
	// sent — имена отправленных документов
	sent []string
	// sentSizes — размеры отправленных документов
	sentSizes []int64
	nextID    int
}

func (f *fakeRelay) SendDocument(_ context.Context, path, fileName string, progress telegram.ProgressFunc) (*telegram.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.sendFails > 0 {
		f.sendFails--
		return nil, &telegram.TransportError{Op: "sendDocument", Err: fmt.Errorf("обрыв соединения")}
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress(st.Size()/2, st.Size())
		progress(st.Size(), st.Size())
	}
	f.nextID++
	f.sent = append(f.sent, fileName)
	f.sentSizes = append(f.sentSizes, st.Size())
	return &telegram.Document{
		FileID:   fmt.Sprintf("tg-file-%d", f.nextID),
		FileSize: st.Size(),
	}, nil
}

func (f *fakeRelay) GetFile(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getFileCalls++
	if f.getFileErr != nil {
		return "", f.getFileErr
	}
	if f.filePath == "" {
		return "documents/file_1.bin", nil
	}
	return f.filePath, nil
}

func (f *fakeRelay) FileURL(filePath string) string {
	return "https://api.telegram.org/file/bot-test/" + filePath
}

func (f *fakeRelay) Fetch(_ context.Context, _ string) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, 0, f.fetchErr
	}
	return io.NopCloser(bytes.NewReader(f.fetchBody)), int64(len(f.fetchBody)), nil
}

func (f *fakeRelay) sentNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}
