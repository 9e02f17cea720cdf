package application

import (
	"fmt"
	"sync/atomic"

	"abuse-guard/middleware/ratelimit/domain"
)

// Rules guarda a configuração ativa. A troca é atômica: cada chamada de guard
// lê um snapshot consistente.
type Rules struct {
	v atomic.Pointer[compiledRules]
}

type compiledRules struct {
	cfg       domain.Config
	whitelist domain.IPList
	blacklist domain.IPList
}

func compile(cfg domain.Config) (*compiledRules, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	wl, err := domain.ParseIPList(cfg.IPControls.WhitelistIPs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	bl, err := domain.ParseIPList(cfg.IPControls.BlacklistIPs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	return &compiledRules{cfg: cfg.Clone(), whitelist: wl, blacklist: bl}, nil
}

func NewRules(cfg domain.Config) (*Rules, error) {
	c, err := compile(cfg)
	if err != nil {
		return nil, err
	}
	r := &Rules{}
	r.v.Store(c)
	return r, nil
}

// Replace valida e troca; em erro a configuração anterior continua ativa.
func (r *Rules) Replace(cfg domain.Config) error {
	c, err := compile(cfg)
	if err != nil {
		return err
	}
	r.v.Store(c)
	return nil
}

// Config devolve uma cópia da configuração ativa.
func (r *Rules) Config() domain.Config {
	return r.snapshot().cfg.Clone()
}

func (r *Rules) snapshot() *compiledRules {
	return r.v.Load()
}
