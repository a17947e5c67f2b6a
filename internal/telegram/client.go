// Пакет telegram — клиент Telegram Bot API для telestore.
// Реализует отправку документов (sendDocument), резолв пути файла
// (getFile) и потоковое скачивание с файлового сервера Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bigkaa/telestore/internal/config"
)

// ProgressFunc вызывается по мере отправки тела запроса.
// sent — отправлено байт, total — полный размер файла.
type ProgressFunc func(sent, total int64)

// TransportError — сетевой сбой до получения ответа Bot API
// (таймаут, обрыв соединения, DNS). Такие ошибки имеет смысл повторять.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("telegram: сетевая ошибка %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError — Bot API ответил ok=false. Содержит код и описание
// из ответа API.
type ProtocolError struct {
	Op          string
	Code        int
	Description string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("telegram: %s: код %d: %s", e.Op, e.Code, e.Description)
}

// IsFileTooBig сообщает, что Bot API отказался выдать файл из-за
// ограничения размера getFile (20 MB). Для таких файлов скачивание
// идёт через сохранённый file_url.
func (e *ProtocolError) IsFileTooBig() bool {
	return e.Code == 400 && strings.Contains(strings.ToLower(e.Description), "file is too big")
}

// IsFileTooBig проверяет ошибку на ограничение размера getFile.
func IsFileTooBig(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.IsFileTooBig()
}

// IsRetryable сообщает, стоит ли повторять операцию.
// Повторяются сетевые сбои и ответы 429/5xx.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code == 429 || pe.Code >= 500
	}
	return false
}

// Document — результат успешной отправки документа.
type Document struct {
	// FileID — идентификатор файла в Telegram, ключ для getFile
	FileID string
	// FileUniqueID — глобально стабильный идентификатор
	FileUniqueID string
	// FileSize — размер по данным Telegram
	FileSize int64
}

// Client — клиент Telegram Bot API.
type Client struct {
	apiBase  string
	botToken string
	chatID   string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient создаёт клиент Bot API на основе конфигурации.
// Общий таймаут запроса — cfg.SendTimeout, таймаут установки
// соединения — cfg.ConnectTimeout.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}

	return &Client{
		apiBase:  strings.TrimRight(cfg.APIBase, "/"),
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.SendTimeout,
		},
		logger: logger,
	}
}

// apiResponse — конверт ответа Bot API.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// SendDocument отправляет файл методом sendDocument и возвращает
// метаданные документа. Тело запроса стримится через io.Pipe —
// файл не буферизуется в памяти целиком. progress может быть nil.
func (c *Client) SendDocument(ctx context.Context, path, fileName string, progress ProgressFunc) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("ошибка stat файла %s: %w", path, err)
	}
	total := st.Size()

	if fileName == "" {
		fileName = filepath.Base(path)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeSendDocumentBody(mw, c.chatID, fileName, f, total, progress)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	url := fmt.Sprintf("%s/bot%s/sendDocument", c.apiBase, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса sendDocument: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "sendDocument", Err: err}
	}
	defer resp.Body.Close()

	result, err := decodeResponse("sendDocument", resp)
	if err != nil {
		return nil, err
	}

	var msg struct {
		Document struct {
			FileID       string `json:"file_id"`
			FileUniqueID string `json:"file_unique_id"`
			FileSize     int64  `json:"file_size"`
		} `json:"document"`
	}
	if err := json.Unmarshal(result, &msg); err != nil {
		return nil, fmt.Errorf("ошибка разбора ответа sendDocument: %w", err)
	}
	if msg.Document.FileID == "" {
		return nil, &ProtocolError{Op: "sendDocument", Code: 0, Description: "в ответе нет document.file_id"}
	}

	c.logger.Debug("Документ отправлен в Telegram",
		slog.String("file_name", fileName),
		slog.Int64("size", total),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &Document{
		FileID:       msg.Document.FileID,
		FileUniqueID: msg.Document.FileUniqueID,
		FileSize:     msg.Document.FileSize,
	}, nil
}

// writeSendDocumentBody пишет multipart-тело sendDocument в writer.
// Прогресс отдаётся не чаще, чем на каждый мегабайт, плюс финальное
// значение sent == total.
func writeSendDocumentBody(mw *multipart.Writer, chatID, fileName string, src io.Reader, total int64, progress ProgressFunc) error {
	if err := mw.WriteField("chat_id", chatID); err != nil {
		return fmt.Errorf("ошибка записи поля chat_id: %w", err)
	}

	part, err := mw.CreateFormFile("document", fileName)
	if err != nil {
		return fmt.Errorf("ошибка создания multipart-части: %w", err)
	}

	var sent, lastReported int64
	const reportStep = 1 << 20
	buf := make([]byte, 64*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := part.Write(buf[:n]); werr != nil {
				return fmt.Errorf("ошибка записи тела документа: %w", werr)
			}
			sent += int64(n)
			if progress != nil && sent-lastReported >= reportStep {
				progress(sent, total)
				lastReported = sent
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("ошибка чтения файла: %w", rerr)
		}
	}
	if progress != nil && sent != lastReported {
		progress(sent, total)
	}

	return mw.Close()
}

// GetFile резолвит file_id в file_path на файловом сервере Bot API.
func (c *Client) GetFile(ctx context.Context, fileID string) (string, error) {
	url := fmt.Sprintf("%s/bot%s/getFile?file_id=%s", c.apiBase, c.botToken, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("ошибка создания запроса getFile: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &TransportError{Op: "getFile", Err: err}
	}
	defer resp.Body.Close()

	result, err := decodeResponse("getFile", resp)
	if err != nil {
		return "", err
	}

	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(result, &file); err != nil {
		return "", fmt.Errorf("ошибка разбора ответа getFile: %w", err)
	}
	if file.FilePath == "" {
		return "", &ProtocolError{Op: "getFile", Code: 0, Description: "в ответе нет file_path"}
	}
	return file.FilePath, nil
}

// FileURL строит URL скачивания по file_path с файлового сервера Bot API.
func (c *Client) FileURL(filePath string) string {
	return fmt.Sprintf("%s/file/bot%s/%s", c.apiBase, c.botToken, filePath)
}

// Fetch открывает потоковое скачивание по URL. Возвращает тело ответа
// (закрывает вызывающая сторона) и Content-Length (-1, если неизвестен).
func (c *Client) Fetch(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка создания запроса скачивания: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Op: "fetch", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, &ProtocolError{
			Op:          "fetch",
			Code:        resp.StatusCode,
			Description: fmt.Sprintf("неожиданный статус %s", resp.Status),
		}
	}
	return resp.Body, resp.ContentLength, nil
}

// Ping проверяет доступность Bot API методом getMe.
// Используется проверкой здоровья зависимостей.
func (c *Client) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/bot%s/getMe", c.apiBase, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса getMe: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "getMe", Err: err}
	}
	defer resp.Body.Close()

	_, err = decodeResponse("getMe", resp)
	return err
}

// decodeResponse разбирает конверт ответа Bot API.
// ok=false превращается в ProtocolError.
func decodeResponse(op string, resp *http.Response) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &ProtocolError{
			Op:          op,
			Code:        resp.StatusCode,
			Description: fmt.Sprintf("не-JSON ответ: %.200s", string(body)),
		}
	}
	if !envelope.OK {
		code := envelope.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return nil, &ProtocolError{Op: op, Code: code, Description: envelope.Description}
	}
	return envelope.Result, nil
}
