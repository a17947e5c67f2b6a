package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/telestore/internal/config"
)

// testClient создаёт клиент, направленный на тестовый сервер.
func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	cfg := &config.Config{
		APIBase:        srv.URL,
		BotToken:       "test-token",
		ChatID:         "-1001234567890",
		SendTimeout:    5 * time.Second,
		ConnectTimeout: time.Second,
	}
	return NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// writeTempFile создаёт временный файл с содержимым.
func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("не удалось создать временный файл: %v", err)
	}
	return path
}

func TestSendDocument(t *testing.T) {
	content := make([]byte, 3<<20)
	for i := range content {
		content[i] = byte(i % 251)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottest-token/sendDocument" {
			t.Errorf("неожиданный путь запроса: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			t.Fatalf("ошибка разбора multipart: %v", err)
		}
		if got := r.FormValue("chat_id"); got != "-1001234567890" {
			t.Errorf("chat_id = %q, ожидался -1001234567890", got)
		}
		file, hdr, err := r.FormFile("document")
		if err != nil {
			t.Fatalf("ошибка чтения части document: %v", err)
		}
		defer file.Close()
		if hdr.Filename != "report.bin" {
			t.Errorf("имя файла = %q, ожидалось report.bin", hdr.Filename)
		}
		data, _ := io.ReadAll(file)
		if len(data) != len(content) {
			t.Errorf("получено %d байт, ожидалось %d", len(data), len(content))
		}

		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"document": map[string]any{
					"file_id":        "BQACAgIAAxkBAAI",
					"file_unique_id": "AgADxxx",
					"file_size":      len(content),
				},
			},
		})
	}))
	defer srv.Close()

	path := writeTempFile(t, "report.bin", content)

	var lastSent, lastTotal int64
	var calls int
	doc, err := testClient(t, srv).SendDocument(context.Background(), path, "report.bin",
		func(sent, total int64) {
			if sent < lastSent {
				t.Errorf("прогресс уменьшился: %d после %d", sent, lastSent)
			}
			lastSent, lastTotal = sent, total
			calls++
		})
	if err != nil {
		t.Fatalf("SendDocument вернул ошибку: %v", err)
	}
	if doc.FileID != "BQACAgIAAxkBAAI" {
		t.Errorf("FileID = %q", doc.FileID)
	}
	if lastSent != int64(len(content)) || lastTotal != int64(len(content)) {
		t.Errorf("финальный прогресс %d/%d, ожидалось %d/%d",
			lastSent, lastTotal, len(content), len(content))
	}
	if calls < 2 {
		t.Errorf("ожидалось несколько вызовов прогресса, получено %d", calls)
	}
}

func TestSendDocumentProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: chat not found",
		})
	}))
	defer srv.Close()

	path := writeTempFile(t, "f.txt", []byte("data"))

	_, err := testClient(t, srv).SendDocument(context.Background(), path, "f.txt", nil)
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("ожидалась ProtocolError, получено %v", err)
	}
	if pe.Code != 400 {
		t.Errorf("код ошибки = %d, ожидался 400", pe.Code)
	}
	if pe.IsFileTooBig() {
		t.Error("chat not found не должен распознаваться как file is too big")
	}
}

func TestSendDocumentTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // сервер уже остановлен — соединение не установится

	path := writeTempFile(t, "f.txt", []byte("data"))

	_, err := testClient(t, srv).SendDocument(context.Background(), path, "f.txt", nil)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("ожидалась TransportError, получено %v", err)
	}
	if !IsRetryable(err) {
		t.Error("сетевая ошибка должна быть повторяемой")
	}
}

func TestGetFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("file_id"); got != "abc123" {
			t.Errorf("file_id = %q, ожидался abc123", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"file_path": "documents/file_42.bin"},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv)
	fp, err := c.GetFile(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("GetFile вернул ошибку: %v", err)
	}
	if fp != "documents/file_42.bin" {
		t.Errorf("file_path = %q", fp)
	}

	url := c.FileURL(fp)
	want := srv.URL + "/file/bottest-token/documents/file_42.bin"
	if url != want {
		t.Errorf("FileURL = %q, ожидалось %q", url, want)
	}
}

func TestGetFileTooBig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"error_code":  400,
			"description": "Bad Request: file is too big",
		})
	}))
	defer srv.Close()

	_, err := testClient(t, srv).GetFile(context.Background(), "big")
	if !IsFileTooBig(err) {
		t.Fatalf("ожидалось распознавание file is too big, получено %v", err)
	}
	if IsRetryable(err) {
		t.Error("file is too big не должен повторяться")
	}
}

func TestFetch(t *testing.T) {
	payload := []byte("streamed file content")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	body, size, err := testClient(t, srv).Fetch(context.Background(), srv.URL+"/file/x")
	if err != nil {
		t.Fatalf("Fetch вернул ошибку: %v", err)
	}
	defer body.Close()

	if size != int64(len(payload)) {
		t.Errorf("размер = %d, ожидалось %d", size, len(payload))
	}
	got, _ := io.ReadAll(body)
	if string(got) != string(payload) {
		t.Errorf("содержимое = %q", got)
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, _, err := testClient(t, srv).Fetch(context.Background(), srv.URL+"/missing")
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("ожидалась ProtocolError, получено %v", err)
	}
	if pe.Code != http.StatusNotFound {
		t.Errorf("код = %d, ожидался 404", pe.Code)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limit", &ProtocolError{Code: 429}, true},
		{"server error", &ProtocolError{Code: 502}, true},
		{"bad request", &ProtocolError{Code: 400}, false},
		{"transport", &TransportError{Op: "sendDocument", Err: errors.New("timeout")}, true},
		{"прочее", errors.New("oops"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("%s: IsRetryable = %v, ожидалось %v", tc.name, got, tc.want)
		}
	}
}
