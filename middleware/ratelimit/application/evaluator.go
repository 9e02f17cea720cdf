package application

import (
	"context"
	"time"

	"abuse-guard/middleware/ratelimit/domain"
)

// Evaluator decide allow/deny para um único contador de janela fixa.
//
// Rajadas exatamente na virada da janela podem passar até 2x o limite: é a
// imprecisão aceita de uma janela fixa. Check nunca incrementa; quem chama
// decide qual evento conta (ex.: só logins com falha).
type Evaluator struct {
	Store domain.Store
}

func (e Evaluator) Check(ctx context.Context, key domain.RateLimitKey, limit int, window time.Duration) (domain.Result, error) {
	k := key.Store()

	current, err := e.Store.Count(ctx, k)
	if err != nil {
		return domain.Result{}, err
	}
	if current < int64(limit) {
		return domain.Result{Allowed: true, Remaining: limit - int(current)}, nil
	}

	retry := window
	if ttl, ok, err := e.Store.TTL(ctx, k); err == nil && ok && ttl > 0 {
		retry = ttl
	}
	return domain.Result{Allowed: false, Remaining: 0, RetryAfter: retry}, nil
}

// Hit conta um evento na janela de key (cria o contador se preciso).
func (e Evaluator) Hit(ctx context.Context, key domain.RateLimitKey, window time.Duration) (int64, error) {
	return e.Store.Increment(ctx, key.Store(), window)
}
