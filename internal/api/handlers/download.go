// download.go — публичный обработчик скачивания файла.
// Доступ по подписанной ссылке (HMAC с ограничением по времени),
// проверки активности, срока, лимита и пароля — в сервисном слое.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/telestore/internal/api/errors"
	"github.com/bigkaa/telestore/internal/service"
)

// DownloadFile — GET /api/v1/files/{id}/download?expires=...&sig=...
// Опциональный query-параметр password — для защищённых файлов.
// Тело файла стримится из Telegram без буферизации на диске.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	q := r.URL.Query()
	sig := q.Get("sig")
	rawExpires := q.Get("expires")
	if sig == "" || rawExpires == "" {
		apierrors.Forbidden(w, "Требуется подписанная ссылка скачивания")
		return
	}

	expires, err := strconv.ParseInt(rawExpires, 10, 64)
	if err != nil {
		apierrors.ValidationError(w, "некорректный expires")
		return
	}

	if err := h.signer.Verify(id, expires, sig); err != nil {
		switch {
		case errors.Is(err, service.ErrLinkExpired):
			apierrors.WriteError(w, http.StatusGone, apierrors.CodeFileExpired,
				"Срок действия ссылки истёк")
		default:
			apierrors.Forbidden(w, "Недействительная подпись ссылки")
		}
		return
	}

	err = h.download.Download(r.Context(), w, service.AccessRequest{
		FileID:    id,
		Password:  q.Get("password"),
		UserID:    userID(r),
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
}
