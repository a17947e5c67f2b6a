// files.go — обработчики каталога файлов:
// листинг, карточка, статистика, удаление, подписанные ссылки,
// журнал доступа.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/bigkaa/telestore/internal/api/errors"
	"github.com/bigkaa/telestore/internal/domain/model"
	"github.com/bigkaa/telestore/internal/repository"
)

// fileResponse — представление записи файла в API.
// password_hash и file_url наружу не отдаются.
type fileResponse struct {
	ID                int64      `json:"id"`
	FileName          string     `json:"file_name"`
	FileSize          int64      `json:"file_size"`
	TelegramFileID    string     `json:"telegram_file_id"`
	Category          *string    `json:"category,omitempty"`
	Tags              *string    `json:"tags,omitempty"`
	Description       *string    `json:"description,omitempty"`
	DownloadCount     int        `json:"download_count"`
	AccessCount       int        `json:"access_count"`
	ExpirationDate    *time.Time `json:"expiration_date,omitempty"`
	MaxDownloads      *int       `json:"max_downloads,omitempty"`
	PasswordProtected bool       `json:"password_protected"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
}

// newFileResponse преобразует доменную запись в API-представление.
func newFileResponse(f *model.FileRecord) fileResponse {
	return fileResponse{
		ID:                f.ID,
		FileName:          f.FileName,
		FileSize:          f.FileSize,
		TelegramFileID:    f.TelegramFileID,
		Category:          f.Category,
		Tags:              f.Tags,
		Description:       f.Description,
		DownloadCount:     f.DownloadCount,
		AccessCount:       f.AccessCount,
		ExpirationDate:    f.ExpirationDate,
		MaxDownloads:      f.MaxDownloads,
		PasswordProtected: f.PasswordProtected(),
		IsActive:          f.IsActive,
		CreatedAt:         f.CreatedAt,
	}
}

// listFilesResponse — ответ листинга каталога.
type listFilesResponse struct {
	Files  []fileResponse `json:"files"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ListFiles — GET /api/v1/files.
// Query-параметры: category, tag, active, limit, offset.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := repository.ListParams{}
	if v := q.Get("category"); v != "" {
		params.Category = &v
	}
	if v := q.Get("tag"); v != "" {
		params.Tag = &v
	}
	params.ActiveOnly = q.Get("active") == "true"
	params.Limit, _ = strconv.Atoi(q.Get("limit"))
	params.Offset, _ = strconv.Atoi(q.Get("offset"))

	files, total, err := h.catalog.List(r.Context(), params)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := listFilesResponse{
		Files:  make([]fileResponse, 0, len(files)),
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	if resp.Limit <= 0 || resp.Limit > 100 {
		resp.Limit = 50
	}
	if resp.Offset < 0 {
		resp.Offset = 0
	}
	for _, f := range files {
		resp.Files = append(resp.Files, newFileResponse(f))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetFile — GET /api/v1/files/{id}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	record, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newFileResponse(record))
}

// DeleteFile — DELETE /api/v1/files/{id}.
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	if err := h.catalog.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeactivateFile — POST /api/v1/files/{id}/deactivate.
func (h *APIHandler) DeactivateFile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	if err := h.catalog.Deactivate(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// fileStatsResponse — агрегированная статистика каталога.
type fileStatsResponse struct {
	TotalFiles         int   `json:"total_files"`
	TotalSize          int64 `json:"total_size"`
	TotalDownloads     int   `json:"total_downloads"`
	FilesWithDownloads int   `json:"files_with_downloads"`
}

// GetFileStats — GET /api/v1/files/stats.
func (h *APIHandler) GetFileStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.catalog.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, fileStatsResponse{
		TotalFiles:         stats.TotalFiles,
		TotalSize:          stats.TotalSize,
		TotalDownloads:     stats.TotalDownloads,
		FilesWithDownloads: stats.FilesWithDownloads,
	})
}

// Пределы срока действия подписанной ссылки.
const (
	defaultLinkTTL = 24 * time.Hour
	minLinkTTL     = time.Minute
	maxLinkTTL     = 7 * 24 * time.Hour
)

// fileLinkResponse — подписанная ссылка скачивания.
type fileLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GetFileLink — GET /api/v1/files/{id}/link.
// Выдаёт подписанную ссылку скачивания (HMAC, ограничена по времени).
// Query-параметр expires_in — срок действия в секундах (по умолчанию 24ч).
func (h *APIHandler) GetFileLink(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	record, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !record.IsActive {
		apierrors.NotFound(w, "Файл не найден или деактивирован")
		return
	}

	ttl := defaultLinkTTL
	if raw := r.URL.Query().Get("expires_in"); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seconds <= 0 {
			apierrors.ValidationError(w, "некорректный expires_in")
			return
		}
		ttl = time.Duration(seconds) * time.Second
		if ttl < minLinkTTL {
			ttl = minLinkTTL
		}
		if ttl > maxLinkTTL {
			ttl = maxLinkTTL
		}
	}

	expires := time.Now().Add(ttl)
	sig := h.signer.Sign(id, expires)

	writeJSON(w, http.StatusOK, fileLinkResponse{
		URL: "/api/v1/files/" + strconv.FormatInt(id, 10) + "/download" +
			"?expires=" + strconv.FormatInt(expires.Unix(), 10) + "&sig=" + sig,
		ExpiresAt: expires,
	})
}

// accessLogResponse — строка журнала доступа в API.
type accessLogResponse struct {
	ID         int64          `json:"id"`
	UserID     *string        `json:"user_id,omitempty"`
	Action     string         `json:"action"`
	IPAddress  string         `json:"ip_address"`
	UserAgent  string         `json:"user_agent"`
	ExtraData  map[string]any `json:"extra_data,omitempty"`
	AccessTime time.Time      `json:"access_time"`
}

// GetFileHistory — GET /api/v1/files/{id}/history.
// Последние записи журнала доступа к файлу.
func (h *APIHandler) GetFileHistory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.catalog.AccessHistory(r.Context(), id, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := make([]accessLogResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, accessLogResponse{
			ID:         e.ID,
			UserID:     e.UserID,
			Action:     e.Action,
			IPAddress:  e.IPAddress,
			UserAgent:  e.UserAgent,
			ExtraData:  e.ExtraData,
			AccessTime: e.AccessTime,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"file_id": id,
		"entries": resp,
	})
}
