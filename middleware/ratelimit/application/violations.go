package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"abuse-guard/middleware/ratelimit/domain"
)

const (
	// ViolationRetention é o horizonte do log de violações.
	ViolationRetention = 24 * time.Hour
	// ViolationLogTTL fica um pouco acima da retenção para o store não
	// expirar registros ainda dentro da janela.
	ViolationLogTTL = 25 * time.Hour
)

// ViolationTracker mantém o log rolante de 24h de violações por identificador.
type ViolationTracker struct {
	Store domain.Store
	Now   domain.Clock
}

func (t ViolationTracker) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

// Record grava a violação no log do usuário e no log do IP, cada um podado
// de forma independente. Identificadores vazios são ignorados.
func (t ViolationTracker) Record(ctx context.Context, user, ip, kind string) error {
	rec := domain.ViolationRecord{Timestamp: t.now(), Kind: kind}

	var errs []error
	if id := domain.NormalizeIdentifier(user); id != "" {
		if err := t.Store.AppendViolation(ctx, domain.ViolationsKey(domain.ScopeUser, id), rec, ViolationRetention, ViolationLogTTL); err != nil {
			errs = append(errs, fmt.Errorf("record user violation: %w", err))
		}
	}
	if id := domain.NormalizeIdentifier(ip); id != "" {
		if err := t.Store.AppendViolation(ctx, domain.ViolationsKey(domain.ScopeIP, id), rec, ViolationRetention, ViolationLogTTL); err != nil {
			errs = append(errs, fmt.Errorf("record ip violation: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Count retorna quantas violações de identifier caem nas últimas hours horas.
// hours <= 0 usa 24. O escopo é sempre explícito.
func (t ViolationTracker) Count(ctx context.Context, scope domain.Scope, identifier string, hours int) (int, error) {
	if scope != domain.ScopeUser && scope != domain.ScopeIP {
		return 0, fmt.Errorf("%w: violation scope %q", domain.ErrInvalidIdentifier, scope)
	}
	id := domain.NormalizeIdentifier(identifier)
	if id == "" {
		return 0, nil
	}
	if hours <= 0 {
		hours = 24
	}

	records, err := t.Store.Violations(ctx, domain.ViolationsKey(scope, id))
	if err != nil {
		return 0, err
	}

	cutoff := t.now().Add(-time.Duration(hours) * time.Hour)
	n := 0
	for _, r := range records {
		if r.Timestamp.After(cutoff) {
			n++
		}
	}
	return n, nil
}
