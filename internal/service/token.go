// token.go — сервис одноразовых токенов загрузки.
// Токен выдаёт клиенту право прямой загрузки в Telegram в обход
// сервера: вместе с токеном клиент получает реквизиты бота.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/telestore/internal/config"
	"github.com/bigkaa/telestore/internal/domain/model"
	"github.com/bigkaa/telestore/internal/repository"
)

// Ошибки token service.
var (
	// ErrRateLimited — исчерпан дневной лимит токенов пользователя.
	ErrRateLimited = errors.New("превышен дневной лимит токенов")
	// ErrTokenInvalid — токен не найден.
	ErrTokenInvalid = errors.New("токен не найден")
	// ErrTokenExpired — срок действия токена истёк.
	ErrTokenExpired = errors.New("срок действия токена истёк")
)

// Prometheus-метрики токенов.
var (
	tokensIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ts_upload_tokens_issued_total",
		Help: "Общее количество выданных токенов загрузки.",
	})
	tokensRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ts_upload_tokens_rate_limited_total",
		Help: "Количество отказов в выдаче токена из-за дневного лимита.",
	})
	tokenValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ts_upload_token_validations_total",
		Help: "Количество валидаций токенов (по результату).",
	}, []string{"result"})
)

// TokenGrant — ответ на запрос токена: сам токен плюс реквизиты
// для прямой загрузки клиентом.
type TokenGrant struct {
	Token       string    `json:"upload_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	ExpiresIn   int64     `json:"expires_in"`
	UserID      string    `json:"user_id"`
	BotToken    string    `json:"bot_token"`
	ChatID      string    `json:"chat_id"`
	UploadURL   string    `json:"upload_url"`
	MaxFileSize int64     `json:"max_file_size"`
}

// TokenStatus — состояние токена для опроса клиентом.
type TokenStatus struct {
	Valid     bool       `json:"valid"`
	Used      bool       `json:"used"`
	Expired   bool       `json:"expired"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// TokenService — выдача и валидация одноразовых токенов загрузки.
type TokenService struct {
	repo       repository.TokenRepository
	ttl        time.Duration
	dailyLimit int
	botToken   string
	chatID     string
	uploadURL  string
	maxSize    int64
	logger     *slog.Logger
}

// NewTokenService создаёт сервис токенов.
func NewTokenService(repo repository.TokenRepository, cfg *config.Config, logger *slog.Logger) *TokenService {
	return &TokenService{
		repo:       repo,
		ttl:        cfg.TokenTTL,
		dailyLimit: cfg.TokenDailyLimit,
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		uploadURL:  fmt.Sprintf("%s/bot%s/sendDocument", cfg.APIBase, cfg.BotToken),
		maxSize:    cfg.MaxDirectSize,
		logger:     logger.With(slog.String("component", "token_service")),
	}
}

// Generate выдаёт новый токен пользователю.
//
// Последовательность:
//  1. Ленивая очистка: удалить токены, истёкшие больше часа назад.
//  2. Дневной лимит: токены считаются с местной полуночи.
//  3. Генерация 32 случайных байт, hex-кодирование (64 символа).
func (s *TokenService) Generate(ctx context.Context, userID string, meta model.UploadMetadata) (*TokenGrant, error) {
	now := time.Now()

	if deleted, err := s.repo.DeleteExpiredBefore(ctx, now.Add(-time.Hour)); err != nil {
		// Очистка не должна блокировать выдачу
		s.logger.Warn("Ленивая очистка токенов не удалась", slog.String("error", err.Error()))
	} else if deleted > 0 {
		s.logger.Debug("Ленивая очистка токенов", slog.Int64("deleted", deleted))
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	count, err := s.repo.CountCreatedSince(ctx, userID, midnight)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки дневного лимита: %w", err)
	}
	if count >= s.dailyLimit {
		tokensRateLimitedTotal.Inc()
		s.logger.Warn("Дневной лимит токенов исчерпан",
			slog.String("user_id", userID),
			slog.Int("count", count),
		)
		return nil, ErrRateLimited
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("ошибка генерации токена: %w", err)
	}
	token := hex.EncodeToString(raw)

	t := &model.UploadToken{
		Token:     token,
		UserID:    userID,
		Metadata:  meta,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("ошибка сохранения токена: %w", err)
	}

	tokensIssuedTotal.Inc()
	s.logger.Info("Выдан токен загрузки",
		slog.String("user_id", userID),
		slog.Time("expires_at", t.ExpiresAt),
	)

	return &TokenGrant{
		Token:       token,
		ExpiresAt:   t.ExpiresAt,
		ExpiresIn:   int64(s.ttl.Seconds()),
		UserID:      userID,
		BotToken:    s.botToken,
		ChatID:      s.chatID,
		UploadURL:   s.uploadURL,
		MaxFileSize: s.maxSize,
	}, nil
}

// Validate проверяет токен и помечает его использованным.
// Уже использованный, но не истёкший токен остаётся валидным:
// клиент может повторить save-запрос после сетевого сбоя.
// Пометка used идемпотентна — used_at фиксирует первую валидацию.
func (s *TokenService) Validate(ctx context.Context, token string) (*model.UploadToken, error) {
	t, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			tokenValidationsTotal.WithLabelValues("invalid").Inc()
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("ошибка поиска токена: %w", err)
	}

	if time.Now().After(t.ExpiresAt) {
		tokenValidationsTotal.WithLabelValues("expired").Inc()
		return nil, ErrTokenExpired
	}

	if err := s.repo.MarkUsed(ctx, token, time.Now()); err != nil {
		return nil, fmt.Errorf("ошибка пометки токена: %w", err)
	}

	tokenValidationsTotal.WithLabelValues("ok").Inc()
	return t, nil
}

// Status возвращает состояние токена без пометки used.
func (s *TokenService) Status(ctx context.Context, token string) (*TokenStatus, error) {
	t, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("ошибка поиска токена: %w", err)
	}

	expired := time.Now().After(t.ExpiresAt)
	return &TokenStatus{
		Valid:     !expired,
		Used:      t.Used,
		Expired:   expired,
		ExpiresAt: t.ExpiresAt,
		CreatedAt: t.CreatedAt,
		UsedAt:    t.UsedAt,
	}, nil
}

// CleanupExpired удаляет истёкшие токены и использованные старше суток.
// Вызывается фоновой очисткой.
func (s *TokenService) CleanupExpired(ctx context.Context) (int64, error) {
	now := time.Now()
	return s.repo.Sweep(ctx, now, now.Add(-24*time.Hour))
}
