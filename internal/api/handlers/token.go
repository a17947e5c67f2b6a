// token.go — обработчики прямой загрузки клиентом:
// выдача одноразового токена, регистрация загруженного файла,
// опрос состояния токена.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/telestore/internal/api/errors"
	"github.com/bigkaa/telestore/internal/domain/model"
	"github.com/bigkaa/telestore/internal/service"
)

// RequestUploadToken — POST /api/v1/request-upload.
// Тело (опционально) — метаданные будущей записи файла.
// Лимит выдачи считается по пользователю (или IP без аутентификации).
func (h *APIHandler) RequestUploadToken(w http.ResponseWriter, r *http.Request) {
	var meta model.UploadMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil && !errors.Is(err, io.EOF) {
		apierrors.ValidationError(w, "некорректный JSON: "+err.Error())
		return
	}

	grant, err := h.tokens.Generate(r.Context(), tokenUserID(r), meta)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, grant)
}

// saveUploadRequest — тело запроса регистрации прямой загрузки.
type saveUploadRequest struct {
	UploadToken    string `json:"upload_token"`
	TelegramFileID string `json:"telegram_file_id"`
	FileName       string `json:"file_name"`
	FileSize       int64  `json:"file_size"`
}

// saveUploadResponse — карточка созданной записи плюс сообщение клиенту.
type saveUploadResponse struct {
	fileResponse
	Message string `json:"message"`
}

// SaveUpload — POST /api/v1/save-upload.
// Регистрирует файл, загруженный клиентом напрямую в Telegram.
// Проверка размера выполняется до валидации токена, чтобы отказ
// по размеру не тратил токен.
func (h *APIHandler) SaveUpload(w http.ResponseWriter, r *http.Request) {
	var req saveUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "некорректный JSON: "+err.Error())
		return
	}

	switch {
	case req.UploadToken == "":
		apierrors.ValidationError(w, "отсутствует upload_token")
		return
	case req.TelegramFileID == "":
		apierrors.ValidationError(w, "отсутствует telegram_file_id")
		return
	case req.FileName == "":
		apierrors.ValidationError(w, "отсутствует file_name")
		return
	case req.FileSize <= 0:
		apierrors.ValidationError(w, "некорректный file_size")
		return
	}

	if req.FileSize > h.uploads.MaxDirectSize() {
		apierrors.FileTooLarge(w, "Файл превышает лимит прямой загрузки")
		return
	}

	token, err := h.tokens.Validate(r.Context(), req.UploadToken)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	record, err := h.uploads.SaveFromToken(r.Context(), token, req.TelegramFileID, req.FileName, req.FileSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, saveUploadResponse{
		fileResponse: newFileResponse(record),
		Message:      "Файл зарегистрирован",
	})
}

// GetUploadTokenStatus — GET /api/v1/upload-status/{token}.
// Опрос состояния токена клиентом, токен не расходуется.
func (h *APIHandler) GetUploadTokenStatus(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		apierrors.ValidationError(w, "отсутствует токен")
		return
	}

	status, err := h.tokens.Status(r.Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrTokenInvalid) {
			apierrors.NotFound(w, "Токен не найден")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}
