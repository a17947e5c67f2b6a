// Пакет errors — конструкторы стандартных ошибок HTTP API telestore.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // имя пакета совпадает со stdlib намеренно, импортируется как apierrors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок API.
const (
	CodeValidationError   = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodePasswordRequired  = "PASSWORD_REQUIRED"
	CodeWrongPassword     = "WRONG_PASSWORD"
	CodeFileExpired       = "FILE_EXPIRED"
	CodeLimitReached      = "DOWNLOAD_LIMIT_REACHED"
	CodeTelegramError     = "TELEGRAM_ERROR"
	CodeDatabaseError     = "DATABASE_ERROR"
	CodeInternalError     = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// RateLimitExceeded — 429 превышен лимит запросов.
func RateLimitExceeded(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimitExceeded, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// PasswordRequired — 401 файл защищён паролем, пароль не передан.
// Клиент должен показать форму ввода пароля, это не терминальный отказ.
func PasswordRequired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodePasswordRequired, message)
}

// WrongPassword — 401 передан неверный пароль.
func WrongPassword(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeWrongPassword, message)
}

// FileExpired — 410 срок действия файла истёк.
func FileExpired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeFileExpired, message)
}

// DownloadLimitReached — 403 лимит скачиваний исчерпан.
func DownloadLimitReached(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeLimitReached, message)
}

// TelegramError — 502 ошибка взаимодействия с Telegram Bot API.
func TelegramError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeTelegramError, message)
}

// DatabaseError — 500 ошибка слоя персистентности. Отдельный код:
// "Telegram принял файл, но запись потеряна" должно быть отличимо
// от отказа самого Telegram.
func DatabaseError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeDatabaseError, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
