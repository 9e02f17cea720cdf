package application

import (
	"context"
	"time"

	"abuse-guard/middleware/ratelimit/domain"
)

// ResolvePenalty percorre a escada do mais severo para o menos severo e
// devolve o primeiro degrau com Violations <= count.
func ResolvePenalty(levels []domain.PenaltyLevel, count int) (domain.PenaltyLevel, bool) {
	for i := len(levels) - 1; i >= 0; i-- {
		if levels[i].Violations <= count {
			return levels[i], true
		}
	}
	return domain.PenaltyLevel{}, false
}

// PenaltyResolver aplica a LockoutFlag do par (usuário, ip).
type PenaltyResolver struct {
	Store  domain.Store
	Events domain.EventSink
}

// Apply grava a flag com TTL igual ao degrau resolvido. Uma flag ativa é
// sobrescrita: a nova duração vale a partir de agora.
func (p PenaltyResolver) Apply(ctx context.Context, levels []domain.PenaltyLevel, user, ip string, count int) (time.Duration, bool, error) {
	lvl, ok := ResolvePenalty(levels, count)
	if !ok {
		return 0, false, nil
	}

	lockout := lvl.Lockout()
	if err := p.Store.SetFlag(ctx, domain.LockoutKey(user, ip), lockout); err != nil {
		return 0, false, err
	}

	if p.Events != nil {
		p.Events.Emit(ctx, domain.EventProgressiveLockout, map[string]any{
			"user":            domain.NormalizeIdentifier(user),
			"ip":              domain.NormalizeIdentifier(ip),
			"violations":      count,
			"threshold":       lvl.Violations,
			"lockout_minutes": lvl.LockoutMinutes,
		})
	}
	return lockout, true, nil
}
