package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmerrifield20/fangate/internal/captcha"
	"github.com/jmerrifield20/fangate/internal/textrisk"
	"github.com/jmerrifield20/fangate/internal/trust"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fangate.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Store.Backend != "memory" {
		t.Errorf("server/store defaults = %+v %+v", cfg.Server, cfg.Store)
	}
	if cfg.Store.OpTimeout != 250*time.Millisecond {
		t.Errorf("op_timeout = %v", cfg.Store.OpTimeout)
	}
	if cfg.Trust.TTL != 30*24*time.Hour || cfg.Trust.DecayPerDay != 2 {
		t.Errorf("trust = %+v", cfg.Trust)
	}
	if cfg.Captcha.VelocityWindow != 10*time.Minute || cfg.Captcha.FingerprintThreshold != 3 {
		t.Errorf("captcha = %+v", cfg.Captcha)
	}

	pols, err := cfg.Policies()
	if err != nil {
		t.Fatalf("Policies: %v", err)
	}
	p := pols.PolicyFor("anyone")
	if p.CaptchaMode != captcha.ModeAuto || p.RateLimit.PerIPLimit != 10 || p.RateLimit.WindowHours != 1 {
		t.Errorf("default policy = %+v", p)
	}
	if !p.TextRisk.ProfanityEnabled || p.TextRisk.ExternalBlocklistEnabled || p.ModerationEnabled {
		t.Errorf("default switches = %+v", p)
	}

	tp, err := cfg.TextRiskPolicy()
	if err != nil {
		t.Fatalf("TextRiskPolicy: %v", err)
	}
	if tp.Actions[textrisk.CategoryMedium] != textrisk.ActionFlag || tp.Weights.Blocklist != 60 {
		t.Errorf("textrisk policy = %+v", tp)
	}
}

func TestLoad_targetOverrides(t *testing.T) {
	path := writeConfig(t, `
policy:
  default:
    captcha_mode: never
    per_ip_limit: 20
  targets:
    Talent-7:
      captcha_mode: ALWAYS
      moderation_enabled: true
    talent-9:
      per_ip_limit: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	pols, err := cfg.Policies()
	if err != nil {
		t.Fatalf("Policies: %v", err)
	}

	def := pols.PolicyFor("unknown")
	if def.CaptchaMode != captcha.ModeNever || def.RateLimit.PerIPLimit != 20 {
		t.Errorf("default = %+v", def)
	}

	t7 := pols.PolicyFor("talent-7")
	if t7.CaptchaMode != captcha.ModeAlways || !t7.ModerationEnabled || t7.RateLimit.PerIPLimit != 20 {
		t.Errorf("talent-7 = %+v", t7)
	}
	if pols.PolicyFor("TALENT-7").CaptchaMode != captcha.ModeAlways {
		t.Error("target lookup should ignore case")
	}

	t9 := pols.PolicyFor("talent-9")
	if t9.RateLimit.PerIPLimit != 3 || t9.CaptchaMode != captcha.ModeNever {
		t.Errorf("talent-9 = %+v", t9)
	}
}

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("STORE_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != "redis" || cfg.Store.RedisURL != "redis://cache:6379/1" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_invalid(t *testing.T) {
	cases := map[string]string{
		"bad mode":       "policy:\n  default:\n    captcha_mode: sometimes\n",
		"zero limit":     "policy:\n  default:\n    per_ip_limit: 0\n",
		"bad override":   "policy:\n  targets:\n    t1:\n      window_hours: -1\n",
		"bad backend":    "store:\n  backend: etcd\n",
		"turnstile":      "captcha:\n  provider: turnstile\n",
		"lenient high":   "textrisk:\n  actions:\n    safe: allow\n    low: allow\n    medium: reject\n    high: flag\n",
		"weights order":  "textrisk:\n  medium_weight: 60\n",
		"kafka no topic": "kafka:\n  brokers: [k:9092]\n  events_topic: \"\"\n",
		"flipped delta":  "trust:\n  deltas:\n    captcha_fail: 5\n",
		"unknown event":  "trust:\n  deltas:\n    login: 3\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_trustDeltas(t *testing.T) {
	cfg, err := Load(writeConfig(t, "trust:\n  deltas:\n    captcha_fail: -25\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tc, err := cfg.TrustStoreConfig()
	if err != nil {
		t.Fatalf("TrustStoreConfig: %v", err)
	}
	if tc.Deltas[trust.EventCaptchaFail] != -25 || len(tc.Deltas) != 1 {
		t.Errorf("deltas = %v", tc.Deltas)
	}
	if tc.TTL != 30*24*time.Hour || tc.MaxFactors != 20 {
		t.Errorf("trust config = %+v", tc)
	}
}

func TestLoad_trustedProxies(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Server.TrustedProxies) != 0 {
		t.Errorf("default trusted proxies = %v, want none", cfg.Server.TrustedProxies)
	}
	cfg, err = Load(writeConfig(t, "server:\n  trusted_proxies: [10.0.0.0/8]\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Server.TrustedProxies) != 1 || cfg.Server.TrustedProxies[0] != "10.0.0.0/8" {
		t.Errorf("trusted proxies = %v", cfg.Server.TrustedProxies)
	}
}

func TestLoad_invalidModeIsSentinel(t *testing.T) {
	cfg := &Config{Policy: PolicyConfig{Default: TargetPolicy{CaptchaMode: "maybe", PerIPLimit: 1, WindowHours: 1}}}
	if _, err := cfg.Policies(); !errors.Is(err, captcha.ErrInvalidMode) {
		t.Errorf("err = %v, want ErrInvalidMode", err)
	}
}

func TestLoad_missingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}
