// readiness.go — проверка готовности Telegram Bot API для /health/ready.
package telegram

import (
	"context"
	"time"
)

// ReadinessChecker — проверка доступности Bot API через getMe.
type ReadinessChecker struct {
	client  *Client
	timeout time.Duration
}

// NewReadinessChecker создаёт checker доступности Bot API.
func NewReadinessChecker(client *Client, timeout time.Duration) *ReadinessChecker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ReadinessChecker{client: client, timeout: timeout}
}

// CheckReady проверяет доступность Bot API.
func (r *ReadinessChecker) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.Ping(ctx); err != nil {
		return "fail", "Bot API недоступен: " + err.Error()
	}
	return "ok", "Bot API доступен"
}
