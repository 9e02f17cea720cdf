package domain

import (
	"errors"
	"testing"
)

func TestParseConfig_EmptyInputUsesDefaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LoginAttempts.Limit != 5 || cfg.LoginAttempts.WindowMinutes != 15 || cfg.LoginAttempts.LockoutMinutes != 30 {
		t.Fatalf("unexpected login defaults: %+v", cfg.LoginAttempts)
	}
	if cfg.IPControls.MaxUsersPerIP != 10 {
		t.Fatalf("expected max_users_per_ip=10, got %d", cfg.IPControls.MaxUsersPerIP)
	}
	if !cfg.ProgressivePenalties.Enabled {
		t.Fatalf("expected progressive penalties enabled by default")
	}
	if len(cfg.ProgressivePenalties.ViolationLevels) != 4 {
		t.Fatalf("expected default ladder with 4 levels, got %d", len(cfg.ProgressivePenalties.ViolationLevels))
	}
}

func TestParseConfig_PartialYAMLKeepsOtherDefaults(t *testing.T) {
	data := []byte(`
login_attempts:
  limit: 3
api_endpoints:
  /api/reports:
    limit: 100
    window_minutes: 1
ip_controls:
  blacklist_ips: ["10.0.0.0/8", "1.2.3.4"]
`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LoginAttempts.Limit != 3 {
		t.Fatalf("expected limit=3, got %d", cfg.LoginAttempts.Limit)
	}
	if cfg.LoginAttempts.WindowMinutes != 15 {
		t.Fatalf("expected default window to be kept, got %d", cfg.LoginAttempts.WindowMinutes)
	}
	ep, ok := cfg.APIEndpoints["/api/reports"]
	if !ok || ep.Limit != 100 || ep.WindowMinutes != 1 {
		t.Fatalf("unexpected endpoint config: %+v (ok=%v)", ep, ok)
	}
	if len(cfg.ProgressivePenalties.ViolationLevels) != 4 {
		t.Fatalf("expected default ladder, got %+v", cfg.ProgressivePenalties.ViolationLevels)
	}
}

func TestParseConfig_RejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte("login_attempts:\n  limit: 5\nsurprise: true\n"))
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}

	_, err = ParseConfigJSON([]byte(`{"login_attempts":{"limit":5,"burst":2}}`))
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for JSON, got %v", err)
	}
}

func TestValidate_ReportsField(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"zero limit", func(c *Config) { c.LoginAttempts.Limit = 0 }, "login_attempts.limit"},
		{"zero window", func(c *Config) { c.LoginAttempts.WindowMinutes = 0 }, "login_attempts.window_minutes"},
		{"negative lockout", func(c *Config) { c.LoginAttempts.LockoutMinutes = -1 }, "login_attempts.lockout_minutes"},
		{"endpoint limit", func(c *Config) {
			c.APIEndpoints["/x"] = EndpointLimit{Limit: 0, WindowMinutes: 1}
		}, "api_endpoints./x.limit"},
		{"bad ip", func(c *Config) { c.IPControls.BlacklistIPs = []string{"not-an-ip"} }, "ip_controls.blacklist_ips"},
		{"ladder not ascending", func(c *Config) {
			c.ProgressivePenalties.ViolationLevels = []PenaltyLevel{{Violations: 5, LockoutMinutes: 10}, {Violations: 5, LockoutMinutes: 20}}
		}, "progressive_penalties.violation_levels[1].violations"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mut(&cfg)

			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, verr.Field)
			}
			if !IsConfigInvalid(err) {
				t.Fatalf("expected error to wrap ErrConfigInvalid")
			}
		})
	}
}

func TestClone_DoesNotShareMaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIEndpoints["/a"] = EndpointLimit{Limit: 1, WindowMinutes: 1}

	cp := cfg.Clone()
	cp.APIEndpoints["/b"] = EndpointLimit{Limit: 2, WindowMinutes: 1}
	cp.ProgressivePenalties.ViolationLevels[0].LockoutMinutes = 999

	if _, ok := cfg.APIEndpoints["/b"]; ok {
		t.Fatalf("clone shares endpoint map")
	}
	if cfg.ProgressivePenalties.ViolationLevels[0].LockoutMinutes == 999 {
		t.Fatalf("clone shares ladder slice")
	}
}

func TestIPList_MatchesAddressesAndRanges(t *testing.T) {
	l, err := ParseIPList([]string{"1.2.3.4", "10.0.0.0/8", " ::1 "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, ip := range []string{"1.2.3.4", "10.20.30.40", "::1", "::ffff:1.2.3.4"} {
		if !l.Contains(ip) {
			t.Fatalf("expected %s to match", ip)
		}
	}
	for _, ip := range []string{"1.2.3.5", "11.0.0.1", "garbage", ""} {
		if l.Contains(ip) {
			t.Fatalf("expected %s not to match", ip)
		}
	}

	var empty IPList
	if !empty.Empty() {
		t.Fatalf("expected zero IPList to be empty")
	}
}
