// handler.go — основной обработчик API telestore.
// Объединяет health и бизнес-обработчики, преобразует ошибки
// сервисного слоя в стандартные HTTP-ответы.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/telestore/internal/api/errors"
	"github.com/bigkaa/telestore/internal/api/middleware"
	"github.com/bigkaa/telestore/internal/config"
	"github.com/bigkaa/telestore/internal/service"
	"github.com/bigkaa/telestore/internal/telegram"
)

// APIHandler — основной обработчик API telestore.
// Делегирует запросы в сервисный слой.
type APIHandler struct {
	health   *HealthHandler
	tokens   *service.TokenService
	uploads  *service.UploadService
	async    *service.AsyncService
	download *service.DownloadService
	catalog  *service.CatalogService
	signer   *service.LinkSigner
	cfg      *config.Config
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	tokens *service.TokenService,
	uploads *service.UploadService,
	async *service.AsyncService,
	download *service.DownloadService,
	catalog *service.CatalogService,
	signer *service.LinkSigner,
	cfg *config.Config,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:   health,
		tokens:   tokens,
		uploads:  uploads,
		async:    async,
		download: download,
		catalog:  catalog,
		signer:   signer,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// idParam извлекает числовой параметр {id} из пути.
func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("некорректный id")
	}
	return id, nil
}

// clientIP извлекает IP клиента: первый адрес X-Forwarded-For
// или RemoteAddr без порта.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// userID возвращает идентификатор аутентифицированного пользователя
// или nil, если аутентификация выключена.
func userID(r *http.Request) *string {
	sub := middleware.SubjectFromContext(r.Context())
	if sub == "" {
		return nil
	}
	return &sub
}

// tokenUserID — идентификатор пользователя для лимитов токенов.
// Без аутентификации лимит считается по IP клиента.
func tokenUserID(r *http.Request) string {
	if sub := middleware.SubjectFromContext(r.Context()); sub != "" {
		return sub
	}
	return "ip:" + clientIP(r)
}

// writeServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrFileInactive):
		apierrors.NotFound(w, "Файл не найден или деактивирован")
	case errors.Is(err, service.ErrFileExpired):
		apierrors.FileExpired(w, "Срок действия файла истёк")
	case errors.Is(err, service.ErrDownloadLimitReached):
		apierrors.DownloadLimitReached(w, "Лимит скачиваний исчерпан")
	case errors.Is(err, service.ErrPasswordRequired):
		apierrors.PasswordRequired(w, "Файл защищён паролем")
	case errors.Is(err, service.ErrWrongPassword):
		apierrors.WrongPassword(w, "Неверный пароль")
	case errors.Is(err, service.ErrRateLimited):
		apierrors.RateLimitExceeded(w, "Превышен дневной лимит токенов загрузки")
	case errors.Is(err, service.ErrTokenInvalid):
		apierrors.Unauthorized(w, "Токен загрузки не найден")
	case errors.Is(err, service.ErrTokenExpired):
		apierrors.Unauthorized(w, "Срок действия токена загрузки истёк")
	case errors.Is(err, service.ErrFileTooLarge):
		apierrors.FileTooLarge(w, "Файл превышает лимит прямой загрузки")
	case errors.Is(err, service.ErrInvalidMetadata):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrQueueFull):
		apierrors.WriteError(w, http.StatusServiceUnavailable, apierrors.CodeRateLimitExceeded,
			"Очередь загрузок заполнена, повторите позже")
	case errors.Is(err, service.ErrFileUnavailable):
		apierrors.TelegramError(w, "Файл недоступен для скачивания через Bot API")
	case isTelegramError(err):
		h.logger.Error("Ошибка Telegram Bot API",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.TelegramError(w, "Ошибка взаимодействия с Telegram")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервиса")
	}
}

// isTelegramError определяет ошибки транспорта/протокола Bot API.
func isTelegramError(err error) bool {
	var te *telegram.TransportError
	var pe *telegram.ProtocolError
	return errors.As(err, &te) || errors.As(err, &pe)
}
