package config

import (
	"fmt"
	"strings"

	"github.com/jmerrifield20/fangate/internal/captcha"
	"github.com/jmerrifield20/fangate/internal/gatekeeper"
	"github.com/jmerrifield20/fangate/internal/ratelimit"
	"github.com/jmerrifield20/fangate/internal/textrisk"
)

// PolicyConfig is the default submission policy plus per-target overrides.
type PolicyConfig struct {
	Default TargetPolicy              `mapstructure:"default"`
	Targets map[string]TargetOverride `mapstructure:"targets"`
}

// TargetPolicy is the flat, file-friendly form of gatekeeper.Policy.
type TargetPolicy struct {
	CaptchaMode              string `mapstructure:"captcha_mode"`
	PerIPLimit               int    `mapstructure:"per_ip_limit"`
	WindowHours              int    `mapstructure:"window_hours"`
	ProfanityEnabled         bool   `mapstructure:"profanity_enabled"`
	ExternalBlocklistEnabled bool   `mapstructure:"external_blocklist_enabled"`
	ModerationEnabled        bool   `mapstructure:"moderation_enabled"`
}

// TargetOverride replaces only the fields it sets.
type TargetOverride struct {
	CaptchaMode              *string `mapstructure:"captcha_mode"`
	PerIPLimit               *int    `mapstructure:"per_ip_limit"`
	WindowHours              *int    `mapstructure:"window_hours"`
	ProfanityEnabled         *bool   `mapstructure:"profanity_enabled"`
	ExternalBlocklistEnabled *bool   `mapstructure:"external_blocklist_enabled"`
	ModerationEnabled        *bool   `mapstructure:"moderation_enabled"`
}

func (o TargetOverride) apply(p TargetPolicy) TargetPolicy {
	if o.CaptchaMode != nil {
		p.CaptchaMode = *o.CaptchaMode
	}
	if o.PerIPLimit != nil {
		p.PerIPLimit = *o.PerIPLimit
	}
	if o.WindowHours != nil {
		p.WindowHours = *o.WindowHours
	}
	if o.ProfanityEnabled != nil {
		p.ProfanityEnabled = *o.ProfanityEnabled
	}
	if o.ExternalBlocklistEnabled != nil {
		p.ExternalBlocklistEnabled = *o.ExternalBlocklistEnabled
	}
	if o.ModerationEnabled != nil {
		p.ModerationEnabled = *o.ModerationEnabled
	}
	return p
}

func (p TargetPolicy) resolve() (gatekeeper.Policy, error) {
	mode, err := captcha.ParseMode(p.CaptchaMode)
	if err != nil {
		return gatekeeper.Policy{}, err
	}
	if p.PerIPLimit <= 0 {
		return gatekeeper.Policy{}, fmt.Errorf("per_ip_limit must be positive, got %d", p.PerIPLimit)
	}
	if p.WindowHours <= 0 {
		return gatekeeper.Policy{}, fmt.Errorf("window_hours must be positive, got %d", p.WindowHours)
	}
	return gatekeeper.Policy{
		CaptchaMode: mode,
		RateLimit:   ratelimit.Config{PerIPLimit: p.PerIPLimit, WindowHours: p.WindowHours},
		TextRisk: textrisk.Config{
			ProfanityEnabled:         p.ProfanityEnabled,
			ExternalBlocklistEnabled: p.ExternalBlocklistEnabled,
		},
		ModerationEnabled: p.ModerationEnabled,
	}, nil
}

// Policies resolves gatekeeper policies per target. Target IDs are matched
// case-insensitively.
type Policies struct {
	def     gatekeeper.Policy
	targets map[string]gatekeeper.Policy
}

// NewPolicies returns a resolver that applies def to every target.
func NewPolicies(def gatekeeper.Policy) *Policies {
	return &Policies{def: def, targets: map[string]gatekeeper.Policy{}}
}

// PolicyFor returns the policy for targetID.
func (p *Policies) PolicyFor(targetID string) gatekeeper.Policy {
	if tp, ok := p.targets[strings.ToLower(targetID)]; ok {
		return tp
	}
	return p.def
}

// Policies parses and validates the default policy and every override.
func (c *Config) Policies() (*Policies, error) {
	def, err := c.Policy.Default.resolve()
	if err != nil {
		return nil, fmt.Errorf("policy.default: %w", err)
	}
	out := NewPolicies(def)
	for id, o := range c.Policy.Targets {
		tp, err := o.apply(c.Policy.Default).resolve()
		if err != nil {
			return nil, fmt.Errorf("policy.targets.%s: %w", id, err)
		}
		out.targets[strings.ToLower(id)] = tp
	}
	return out, nil
}

// TextRiskPolicy builds and validates the analyzer scoring policy. Evasion
// weights keep their defaults.
func (c *Config) TextRiskPolicy() (textrisk.Policy, error) {
	p := textrisk.DefaultPolicy()
	tr := c.TextRisk
	p.Weights.High = tr.HighWeight
	p.Weights.Medium = tr.MediumWeight
	p.Weights.Low = tr.LowWeight
	p.Weights.Blocklist = tr.BlocklistWeight
	if len(tr.Actions) > 0 {
		p.Actions = make(map[textrisk.Category]textrisk.Action, len(tr.Actions))
		for cat, act := range tr.Actions {
			p.Actions[textrisk.Category(strings.ToLower(cat))] = textrisk.Action(strings.ToLower(act))
		}
	}
	if err := p.Validate(); err != nil {
		return textrisk.Policy{}, fmt.Errorf("textrisk policy: %w", err)
	}
	return p, nil
}
