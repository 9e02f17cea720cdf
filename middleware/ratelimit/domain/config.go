package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config é o esquema fixo de regras. Todas as chaves são opcionais;
// as ausentes ficam com os valores de DefaultConfig.
type Config struct {
	LoginAttempts        LoginAttempts            `yaml:"login_attempts" json:"login_attempts"`
	APIEndpoints         map[string]EndpointLimit `yaml:"api_endpoints" json:"api_endpoints"`
	IPControls           IPControls               `yaml:"ip_controls" json:"ip_controls"`
	ProgressivePenalties ProgressivePenalties     `yaml:"progressive_penalties" json:"progressive_penalties"`
}

type LoginAttempts struct {
	Limit          int `yaml:"limit" json:"limit"`
	WindowMinutes  int `yaml:"window_minutes" json:"window_minutes"`
	LockoutMinutes int `yaml:"lockout_minutes" json:"lockout_minutes"`
}

func (l LoginAttempts) Window() time.Duration {
	return time.Duration(l.WindowMinutes) * time.Minute
}

type EndpointLimit struct {
	Limit         int `yaml:"limit" json:"limit"`
	WindowMinutes int `yaml:"window_minutes" json:"window_minutes"`
}

func (e EndpointLimit) Window() time.Duration {
	return time.Duration(e.WindowMinutes) * time.Minute
}

type IPControls struct {
	// MaxUsersPerIP = 0 desliga o alerta de usuários distintos por IP.
	MaxUsersPerIP int      `yaml:"max_users_per_ip" json:"max_users_per_ip"`
	WhitelistIPs  []string `yaml:"whitelist_ips" json:"whitelist_ips"`
	BlacklistIPs  []string `yaml:"blacklist_ips" json:"blacklist_ips"`
}

type ProgressivePenalties struct {
	Enabled         bool           `yaml:"enabled" json:"enabled"`
	ViolationLevels []PenaltyLevel `yaml:"violation_levels" json:"violation_levels"`
}

// PenaltyLevel é um degrau da escada de bloqueio progressivo.
type PenaltyLevel struct {
	Violations     int `yaml:"violations" json:"violations"`
	LockoutMinutes int `yaml:"lockout_minutes" json:"lockout_minutes"`
}

func (p PenaltyLevel) Lockout() time.Duration {
	return time.Duration(p.LockoutMinutes) * time.Minute
}

// DefaultPenaltyLevels é a escada padrão: 3→15min, 5→1h, 10→4h, 20→24h.
func DefaultPenaltyLevels() []PenaltyLevel {
	return []PenaltyLevel{
		{Violations: 3, LockoutMinutes: 15},
		{Violations: 5, LockoutMinutes: 60},
		{Violations: 10, LockoutMinutes: 240},
		{Violations: 20, LockoutMinutes: 1440},
	}
}

func DefaultConfig() Config {
	return Config{
		LoginAttempts: LoginAttempts{Limit: 5, WindowMinutes: 15, LockoutMinutes: 30},
		APIEndpoints:  map[string]EndpointLimit{},
		IPControls:    IPControls{MaxUsersPerIP: 10, WhitelistIPs: []string{}, BlacklistIPs: []string{}},
		ProgressivePenalties: ProgressivePenalties{
			Enabled:         true,
			ViolationLevels: DefaultPenaltyLevels(),
		},
	}
}

// Clone devolve uma cópia sem compartilhar mapas/slices.
func (c Config) Clone() Config {
	out := c
	out.APIEndpoints = make(map[string]EndpointLimit, len(c.APIEndpoints))
	for k, v := range c.APIEndpoints {
		out.APIEndpoints[k] = v
	}
	out.IPControls.WhitelistIPs = append([]string{}, c.IPControls.WhitelistIPs...)
	out.IPControls.BlacklistIPs = append([]string{}, c.IPControls.BlacklistIPs...)
	out.ProgressivePenalties.ViolationLevels = append([]PenaltyLevel{}, c.ProgressivePenalties.ViolationLevels...)
	return out
}

// EndpointNames lista os endpoints configurados em ordem estável.
func (c Config) EndpointNames() []string {
	names := make([]string, 0, len(c.APIEndpoints))
	for name := range c.APIEndpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate retorna um *ValidationError (que embrulha ErrConfigInvalid) no primeiro problema.
func (c Config) Validate() error {
	la := c.LoginAttempts
	if la.Limit <= 0 {
		return NewValidationError("login_attempts.limit", "must be > 0")
	}
	if la.WindowMinutes <= 0 {
		return NewValidationError("login_attempts.window_minutes", "must be > 0")
	}
	if la.LockoutMinutes < 0 {
		return NewValidationError("login_attempts.lockout_minutes", "must be >= 0")
	}

	for _, name := range c.EndpointNames() {
		ep := c.APIEndpoints[name]
		field := "api_endpoints." + name
		if strings.TrimSpace(name) == "" {
			return NewValidationError("api_endpoints", "endpoint name must not be empty")
		}
		if ep.Limit <= 0 {
			return NewValidationError(field+".limit", "must be > 0")
		}
		if ep.WindowMinutes <= 0 {
			return NewValidationError(field+".window_minutes", "must be > 0")
		}
	}

	if c.IPControls.MaxUsersPerIP < 0 {
		return NewValidationError("ip_controls.max_users_per_ip", "must be >= 0")
	}
	if _, err := ParseIPList(c.IPControls.WhitelistIPs); err != nil {
		return NewValidationError("ip_controls.whitelist_ips", err.Error())
	}
	if _, err := ParseIPList(c.IPControls.BlacklistIPs); err != nil {
		return NewValidationError("ip_controls.blacklist_ips", err.Error())
	}

	prev := 0
	for i, lvl := range c.ProgressivePenalties.ViolationLevels {
		field := fmt.Sprintf("progressive_penalties.violation_levels[%d]", i)
		if lvl.Violations <= 0 {
			return NewValidationError(field+".violations", "must be > 0")
		}
		if lvl.LockoutMinutes <= 0 {
			return NewValidationError(field+".lockout_minutes", "must be > 0")
		}
		if lvl.Violations <= prev {
			return NewValidationError(field+".violations", "levels must be strictly ascending")
		}
		prev = lvl.Violations
	}
	return nil
}

// ParseConfig lê YAML (ou JSON) sobre os defaults, rejeitando chaves desconhecidas.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	cfg.ProgressivePenalties.ViolationLevels = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return finishParse(cfg)
}

// ParseConfigJSON é a variante estrita para corpos application/json.
func ParseConfigJSON(data []byte) (Config, error) {
	cfg := DefaultConfig()
	cfg.ProgressivePenalties.ViolationLevels = nil

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return finishParse(cfg)
}

func finishParse(cfg Config) (Config, error) {
	if cfg.ProgressivePenalties.ViolationLevels == nil {
		cfg.ProgressivePenalties.ViolationLevels = DefaultPenaltyLevels()
	}
	if cfg.APIEndpoints == nil {
		cfg.APIEndpoints = map[string]EndpointLimit{}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IPList casa endereços individuais e faixas CIDR.
type IPList struct {
	prefixes []netip.Prefix
}

func ParseIPList(entries []string) (IPList, error) {
	var l IPList
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return IPList{}, fmt.Errorf("invalid CIDR %q", entry)
			}
			l.prefixes = append(l.prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return IPList{}, fmt.Errorf("invalid IP %q", entry)
		}
		addr = addr.Unmap()
		l.prefixes = append(l.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return l, nil
}

func (l IPList) Empty() bool { return len(l.prefixes) == 0 }

// Contains retorna false para IPs que não fazem parse.
func (l IPList) Contains(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range l.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
