// upload.go — обработчики загрузки файлов:
// синхронная (с разбиением на части), фоновая (очередь воркеров)
// и опрос статуса фоновой загрузки.
package handlers

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	apierrors "github.com/bigkaa/telestore/internal/api/errors"
	"github.com/bigkaa/telestore/internal/domain/model"
	"github.com/bigkaa/telestore/internal/service"
)

// multipartMemoryLimit — порог буферизации multipart-формы в памяти,
// всё сверх него multipart спулит на диск сам.
const multipartMemoryLimit = 32 << 20

// metadataFromForm собирает метаданные файла из полей формы.
func metadataFromForm(r *http.Request) model.UploadMetadata {
	maxDownloads, _ := strconv.Atoi(r.FormValue("max_downloads"))
	return model.UploadMetadata{
		Category:       r.FormValue("category"),
		Tags:           r.FormValue("tags"),
		Description:    r.FormValue("description"),
		Password:       r.FormValue("password"),
		ExpirationDate: r.FormValue("expiration_date"),
		MaxDownloads:   maxDownloads,
	}
}

// uploadResponse — ответ синхронной загрузки.
type uploadResponse struct {
	Files []fileResponse `json:"files"`
	Parts int            `json:"parts"`
}

// UploadFile — POST /api/v1/uploads (multipart/form-data).
// Синхронная загрузка: файл спулится на диск, отправляется в Telegram
// целиком или частями, ответ возвращается после отправки всех частей.
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		apierrors.ValidationError(w, "некорректная multipart-форма: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	src, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "отсутствует поле file")
		return
	}
	defer src.Close()

	if header.Filename == "" {
		apierrors.ValidationError(w, "отсутствует имя файла")
		return
	}

	// Спулим на диск: отправка в Telegram требует повторного
	// чтения при разбиении на части.
	spool, err := os.CreateTemp(h.cfg.TempDir, "ts-sync-*")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer func() {
		spool.Close()
		_ = os.Remove(spool.Name())
	}()

	size, err := io.Copy(spool, src)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := spool.Close(); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	result, err := h.uploads.Upload(r.Context(), service.UploadRequest{
		Path:     spool.Name(),
		FileName: header.Filename,
		Size:     size,
		Meta:     metadataFromForm(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := uploadResponse{
		Files: make([]fileResponse, 0, len(result.Records)),
		Parts: result.Parts,
	}
	for _, rec := range result.Records {
		resp.Files = append(resp.Files, newFileResponse(rec))
	}

	writeJSON(w, http.StatusCreated, resp)
}

// asyncUploadResponse — ответ постановки в очередь.
type asyncUploadResponse struct {
	PendingID int64  `json:"pending_id"`
	Status    string `json:"status"`
}

// UploadFileAsync — POST /api/v1/uploads/async (multipart/form-data).
// Файл спулится и ставится в очередь, отправка выполняется воркерами.
// Ответ 202 с id для опроса статуса.
func (h *APIHandler) UploadFileAsync(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		apierrors.ValidationError(w, "некорректная multipart-форма: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	src, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "отсутствует поле file")
		return
	}
	defer src.Close()

	if header.Filename == "" {
		apierrors.ValidationError(w, "отсутствует имя файла")
		return
	}

	id, err := h.async.Enqueue(r.Context(), src, header.Filename, header.Size, metadataFromForm(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, asyncUploadResponse{
		PendingID: id,
		Status:    model.PendingStatusPending,
	})
}

// pendingResponse — состояние фоновой загрузки.
type pendingResponse struct {
	ID           int64     `json:"id"`
	FileName     string    `json:"file_name"`
	FileSize     int64     `json:"file_size"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	RetryCount   int       `json:"retry_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// GetPendingUpload — GET /api/v1/uploads/pending/{id}.
func (h *APIHandler) GetPendingUpload(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	p, err := h.async.Status(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pendingResponse{
		ID:           p.ID,
		FileName:     p.FileName,
		FileSize:     p.FileSize,
		Status:       p.Status,
		Progress:     p.Progress,
		ErrorMessage: p.ErrorMessage,
		RetryCount:   p.RetryCount,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	})
}
