// retry.go — политика повторов с экспоненциальной задержкой.
// Ожидание между попытками уважает контекст: отмена прерывает
// паузу немедленно, без блокировки воркера.
package service

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy — политика повторов операции.
type RetryPolicy struct {
	// MaxAttempts — максимальное число попыток (включая первую)
	MaxAttempts int
	// BaseDelay — задержка перед второй попыткой, далее удваивается
	BaseDelay time.Duration
}

// NewRetryPolicy создаёт политику с maxAttempts попытками
// и базовой задержкой в две секунды: паузы 2s, 4s, 8s...
func NewRetryPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   2 * time.Second,
	}
}

// Backoff возвращает задержку перед попыткой attempt (нумерация с 1).
// Перед первой попыткой задержки нет, далее BaseDelay * 2^(attempt-2).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return p.BaseDelay << (attempt - 2)
}

// Do выполняет fn до первого успеха, не больше MaxAttempts раз.
// retryable решает, имеет ли смысл повторять конкретную ошибку;
// nil — повторяются все. onRetry вызывается перед каждой повторной
// попыткой (для инкремента retry_count); может быть nil.
func (p RetryPolicy) Do(
	ctx context.Context,
	fn func(ctx context.Context) error,
	retryable func(error) bool,
	onRetry func(attempt int, err error),
) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			if err := sleepCtx(ctx, p.Backoff(attempt)); err != nil {
				return fmt.Errorf("повтор прерван: %w", err)
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("исчерпаны %d попыток: %w", p.MaxAttempts, lastErr)
}

// sleepCtx ждёт d или отмены контекста.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
