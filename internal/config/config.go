// Пакет config — загрузка и валидация конфигурации telestore
// из переменных окружения. Никакого глобального состояния:
// структура Config внедряется во все компоненты при конструировании.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации telestore.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера. Должен покрывать proxy download
	// больших файлов, поэтому по умолчанию 10 минут.
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера
	HTTPIdleTimeout time.Duration
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// --- Telegram Bot API ---

	// BotToken — токен бота (обязательный)
	BotToken string
	// ChatID — идентификатор чата-хранилища (обязательный)
	ChatID string
	// APIBase — базовый URL Bot API
	APIBase string
	// SendTimeout — общий таймаут sendDocument
	SendTimeout time.Duration
	// ConnectTimeout — таймаут установки соединения
	ConnectTimeout time.Duration

	// --- Загрузка ---

	// PartSize — потолок размера части при разбиении (49 MiB)
	PartSize int64
	// MaxDirectSize — лимит размера файла прямой клиентской загрузки (50 MiB)
	MaxDirectSize int64
	// TempDir — каталог спула для асинхронных загрузок
	TempDir string
	// AsyncWorkers — количество фоновых воркеров очереди
	AsyncWorkers int
	// AsyncQueueSize — ёмкость буфера очереди
	AsyncQueueSize int
	// MaxRetries — предел попыток отправки в фоновом пути
	MaxRetries int

	// --- Токены загрузки ---

	// TokenTTL — срок действия одноразового токена
	TokenTTL time.Duration
	// TokenDailyLimit — лимит токенов на пользователя в календарные сутки
	TokenDailyLimit int

	// --- Кэш ---

	// CacheSize — максимум записей LRU-кэша метаданных
	CacheSize int
	// CacheTTL — TTL записи FileRecord в кэше
	CacheTTL time.Duration
	// FilePathCacheTTL — TTL кэша file_path Telegram (стабилен для file_id)
	FilePathCacheTTL time.Duration

	// --- Фоновая очистка ---

	// JanitorInterval — период запуска очистки (токены, очередь, expired)
	JanitorInterval time.Duration

	// --- Аутентификация ---

	// JWKSURL — URL JWKS endpoint для валидации JWT (пусто — auth выключен,
	// только для локальной разработки и тестов)
	JWKSURL string
	// JWKSCACert — путь к CA-сертификату для TLS JWKS endpoint (опционально)
	JWKSCACert string
	// JWTIssuer — ожидаемый issuer JWT (пусто — не проверяется)
	JWTIssuer string
	// JWTLeeway — допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// DownloadSecret — ключ HMAC для подписи ссылок скачивания (обязательный)
	DownloadSecret string

	// --- Dependency health ---

	// DephealthGroup — имя группы в метриках topologymetrics
	DephealthGroup string
	// DephealthInterval — интервал проверки зависимостей
	DephealthInterval time.Duration
	// DephealthIsEntry — лейбл isentry=yes для всех зависимостей
	DephealthIsEntry bool
}

// DatabaseDSN возвращает DSN подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:cyclop // линейная последовательность чтения переменных
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("TS_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("TS_PORT: %w", err)
	}

	logLevel := getEnvDefault("TS_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("TS_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("TS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TS_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.HTTPReadTimeout, err = getEnvDuration("TS_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TS_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("TS_HTTP_WRITE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TS_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("TS_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TS_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("TS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost = getEnvDefault("TS_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("TS_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("TS_DB_PORT: %w", err)
	}
	cfg.DBUser = getEnvDefault("TS_DB_USER", "telestore")
	cfg.DBPassword, err = getEnvRequired("TS_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBName = getEnvDefault("TS_DB_NAME", "telestore")
	cfg.DBSSLMode = getEnvDefault("TS_DB_SSLMODE", "disable")

	// --- Telegram Bot API ---

	cfg.BotToken, err = getEnvRequired("TS_BOT_TOKEN")
	if err != nil {
		return nil, err
	}
	cfg.ChatID, err = getEnvRequired("TS_CHAT_ID")
	if err != nil {
		return nil, err
	}
	cfg.APIBase = strings.TrimRight(getEnvDefault("TS_API_BASE", "https://api.telegram.org"), "/")
	cfg.SendTimeout, err = getEnvDuration("TS_SEND_TIMEOUT", 300*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TS_SEND_TIMEOUT: %w", err)
	}
	cfg.ConnectTimeout, err = getEnvDuration("TS_CONNECT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TS_CONNECT_TIMEOUT: %w", err)
	}

	// --- Загрузка ---

	cfg.PartSize, err = getEnvInt64("TS_PART_SIZE", 49*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("TS_PART_SIZE: %w", err)
	}
	cfg.MaxDirectSize, err = getEnvInt64("TS_MAX_DIRECT_SIZE", 50*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("TS_MAX_DIRECT_SIZE: %w", err)
	}
	cfg.TempDir = getEnvDefault("TS_TEMP_DIR", os.TempDir())
	cfg.AsyncWorkers, err = getEnvInt("TS_ASYNC_WORKERS", 2)
	if err != nil {
		return nil, fmt.Errorf("TS_ASYNC_WORKERS: %w", err)
	}
	cfg.AsyncQueueSize, err = getEnvInt("TS_ASYNC_QUEUE_SIZE", 64)
	if err != nil {
		return nil, fmt.Errorf("TS_ASYNC_QUEUE_SIZE: %w", err)
	}
	cfg.MaxRetries, err = getEnvInt("TS_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("TS_MAX_RETRIES: %w", err)
	}

	// --- Токены ---

	cfg.TokenTTL, err = getEnvDuration("TS_TOKEN_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("TS_TOKEN_TTL: %w", err)
	}
	cfg.TokenDailyLimit, err = getEnvInt("TS_TOKEN_DAILY_LIMIT", 100)
	if err != nil {
		return nil, fmt.Errorf("TS_TOKEN_DAILY_LIMIT: %w", err)
	}

	// --- Кэш ---

	cfg.CacheSize, err = getEnvInt("TS_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("TS_CACHE_SIZE: %w", err)
	}
	cfg.CacheTTL, err = getEnvDuration("TS_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("TS_CACHE_TTL: %w", err)
	}
	cfg.FilePathCacheTTL, err = getEnvDuration("TS_FILE_PATH_CACHE_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("TS_FILE_PATH_CACHE_TTL: %w", err)
	}

	// --- Очистка ---

	cfg.JanitorInterval, err = getEnvDuration("TS_JANITOR_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("TS_JANITOR_INTERVAL: %w", err)
	}

	// --- Аутентификация ---

	cfg.JWKSURL = getEnvDefault("TS_JWKS_URL", "")
	cfg.JWKSCACert = getEnvDefault("TS_JWKS_CA_CERT", "")
	cfg.JWTIssuer = getEnvDefault("TS_JWT_ISSUER", "")
	cfg.JWTLeeway, err = getEnvDuration("TS_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TS_JWT_LEEWAY: %w", err)
	}
	cfg.DownloadSecret, err = getEnvRequired("TS_DOWNLOAD_SECRET")
	if err != nil {
		return nil, err
	}

	// --- Dependency health ---

	cfg.DephealthGroup = getEnvDefault("TS_DEPHEALTH_GROUP", "telestore")
	cfg.DephealthInterval, err = getEnvDuration("TS_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
