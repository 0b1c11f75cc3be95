package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var localeCode = regexp.MustCompile(`^[a-z]{2}$`)

type ServerCfg struct {
	Listen         string `yaml:"listen"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

type ModesCfg struct {
	// Hardened shortens the session lifetime and extends HSTS for
	// production-like deployments.
	Hardened bool `yaml:"hardened"`
}

type LocalesCfg struct {
	Supported []string `yaml:"supported"`
	Default   string   `yaml:"default"`
}

type CookieCfg struct {
	Name          string `yaml:"name"`
	SecureName    string `yaml:"secure_name"` // __Secure- variant checked as fallback
	Domain        string `yaml:"domain"`
	Path          string `yaml:"path"`
	Secure        bool   `yaml:"secure"`
	SameSite      string `yaml:"same_site"` // Strict | Lax | None
	ProfileMarker string `yaml:"profile_marker"`
}

type SessionCfg struct {
	Alg           string            `yaml:"alg"`
	Keys          map[string]string `yaml:"keys"`
	CurrentKID    string            `yaml:"current_kid"`
	Issuer        string            `yaml:"issuer"`
	SkewSec       int               `yaml:"skew_sec"`
	LifetimeHours int               `yaml:"lifetime_hours"`
	RefreshCache  struct {
		Capacity int `yaml:"capacity"`
		TTLSec   int `yaml:"ttl_sec"`
	} `yaml:"refresh_cache"`
}

type TierCfg struct {
	MaxRequests int `yaml:"max_requests"`
	WindowSec   int `yaml:"window_sec"`
}

type RateCfg struct {
	Auth             TierCfg `yaml:"auth"`
	API              TierCfg `yaml:"api"`
	General          TierCfg `yaml:"general"`
	SweepIntervalSec int     `yaml:"sweep_interval_sec"`
	MaxKeys          int     `yaml:"max_keys"`
}

type ValidationCfg struct {
	MinUserAgentLen int      `yaml:"min_user_agent_len"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes"`
	DeniedAgents    []string `yaml:"denied_agents"`
}

type UpstreamCfg struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
	Breaker   struct {
		FailureThreshold int `yaml:"failure_threshold"`
		SuccessThreshold int `yaml:"success_threshold"`
		CooldownSec      int `yaml:"cooldown_sec"`
	} `yaml:"breaker"`
}

type CSPCfg struct {
	DefaultSrc     []string `yaml:"default_src"`
	ScriptSrc      []string `yaml:"script_src"`
	StyleSrc       []string `yaml:"style_src"`
	FontSrc        []string `yaml:"font_src"`
	ImgSrc         []string `yaml:"img_src"`
	ConnectSrc     []string `yaml:"connect_src"`
	FrameAncestors []string `yaml:"frame_ancestors"`
}

type HeadersCfg struct {
	CSP           CSPCfg `yaml:"csp"`
	HSTSMaxAgeSec int    `yaml:"hsts_max_age_sec"`
}

type LoggingCfg struct {
	Level string `yaml:"level"` // info|debug
}

type Config struct {
	Server     ServerCfg     `yaml:"server"`
	Modes      ModesCfg      `yaml:"modes"`
	Locales    LocalesCfg    `yaml:"locales"`
	Cookie     CookieCfg     `yaml:"cookie"`
	Session    SessionCfg    `yaml:"session"`
	Rate       RateCfg       `yaml:"rate"`
	Validation ValidationCfg `yaml:"validation"`
	Upstream   UpstreamCfg   `yaml:"upstream"`
	Headers    HeadersCfg    `yaml:"headers"`
	Logging    LoggingCfg    `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with all defaults applied and no file loaded.
// Tests construct isolated instances from this.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.ReadTimeoutMs == 0 {
		c.Server.ReadTimeoutMs = 5000
	}
	if c.Server.WriteTimeoutMs == 0 {
		c.Server.WriteTimeoutMs = 10000
	}
	if len(c.Locales.Supported) == 0 {
		c.Locales.Supported = []string{"en", "ar"}
	}
	if c.Locales.Default == "" {
		c.Locales.Default = "en"
	}
	if c.Cookie.Name == "" {
		c.Cookie.Name = "storegate.session-token"
	}
	if c.Cookie.SecureName == "" {
		c.Cookie.SecureName = "__Secure-" + c.Cookie.Name
	}
	if c.Cookie.Path == "" {
		c.Cookie.Path = "/"
	}
	if c.Cookie.SameSite == "" {
		c.Cookie.SameSite = "Strict"
	}
	if c.Cookie.ProfileMarker == "" {
		c.Cookie.ProfileMarker = "profile-completed"
	}
	if c.Session.Alg == "" {
		c.Session.Alg = "HS256"
	}
	if c.Session.Issuer == "" {
		c.Session.Issuer = "edgegate"
	}
	if c.Session.SkewSec == 0 {
		c.Session.SkewSec = 30
	}
	if c.Session.LifetimeHours == 0 {
		if c.Modes.Hardened {
			c.Session.LifetimeHours = 12
		} else {
			c.Session.LifetimeHours = 24
		}
	}
	if c.Session.RefreshCache.Capacity == 0 {
		c.Session.RefreshCache.Capacity = 10_000
	}
	if c.Session.RefreshCache.TTLSec == 0 {
		c.Session.RefreshCache.TTLSec = 300
	}
	if c.Rate.Auth.MaxRequests == 0 {
		c.Rate.Auth = TierCfg{MaxRequests: 10, WindowSec: 15 * 60}
	}
	if c.Rate.API.MaxRequests == 0 {
		c.Rate.API = TierCfg{MaxRequests: 100, WindowSec: 60}
	}
	if c.Rate.General.MaxRequests == 0 {
		c.Rate.General = TierCfg{MaxRequests: 200, WindowSec: 60}
	}
	if c.Rate.SweepIntervalSec == 0 {
		c.Rate.SweepIntervalSec = 5 * 60
	}
	if c.Rate.MaxKeys == 0 {
		c.Rate.MaxKeys = 10_000
	}
	if c.Validation.MinUserAgentLen == 0 {
		c.Validation.MinUserAgentLen = 10
	}
	if c.Validation.MaxBodyBytes == 0 {
		c.Validation.MaxBodyBytes = 10 << 20
	}
	if len(c.Validation.DeniedAgents) == 0 {
		c.Validation.DeniedAgents = []string{"sqlmap", "nikto", "netsparker", "acunetix", "burpsuite"}
	}
	if c.Upstream.TimeoutMs == 0 {
		c.Upstream.TimeoutMs = 10_000
	}
	if c.Upstream.Breaker.FailureThreshold == 0 {
		c.Upstream.Breaker.FailureThreshold = 5
	}
	if c.Upstream.Breaker.SuccessThreshold == 0 {
		c.Upstream.Breaker.SuccessThreshold = 2
	}
	if c.Upstream.Breaker.CooldownSec == 0 {
		c.Upstream.Breaker.CooldownSec = 30
	}
	if len(c.Headers.CSP.DefaultSrc) == 0 {
		c.Headers.CSP = CSPCfg{
			DefaultSrc:     []string{"'self'"},
			ScriptSrc:      []string{"'self'", "'unsafe-inline'", "'unsafe-eval'", "https://apis.google.com", "https://www.google-analytics.com"},
			StyleSrc:       []string{"'self'", "'unsafe-inline'", "https://fonts.googleapis.com"},
			FontSrc:        []string{"'self'", "https://fonts.gstatic.com"},
			ImgSrc:         []string{"'self'", "data:", "https:"},
			ConnectSrc:     []string{"'self'", "https://api.lajolie-eg.com", "https://www.google-analytics.com"},
			FrameAncestors: []string{"'none'"},
		}
	}
	if c.Headers.HSTSMaxAgeSec == 0 {
		c.Headers.HSTSMaxAgeSec = 31536000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) SessionLifetime() time.Duration {
	return time.Duration(c.Session.LifetimeHours) * time.Hour
}

func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutMs) * time.Millisecond
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Cookie.SameSite) {
	case "strict", "lax", "none":
	default:
		return errors.New("cookie.same_site must be 'Strict', 'Lax' or 'None'")
	}
	if c.Session.CurrentKID == "" || len(c.Session.Keys) == 0 {
		return errors.New("session.keys and session.current_kid required")
	}
	if _, ok := c.Session.Keys[c.Session.CurrentKID]; !ok {
		return errors.New("session.current_kid not found in session.keys")
	}
	for _, t := range []struct {
		name string
		tier TierCfg
	}{{"auth", c.Rate.Auth}, {"api", c.Rate.API}, {"general", c.Rate.General}} {
		if t.tier.MaxRequests <= 0 || t.tier.WindowSec <= 0 {
			return fmt.Errorf("rate.%s: max_requests and window_sec must be positive", t.name)
		}
	}
	// Auth endpoints are the most abuse-sensitive; the auth tier must allow
	// fewer requests than either other tier.
	if c.Rate.Auth.MaxRequests >= c.Rate.API.MaxRequests ||
		c.Rate.Auth.MaxRequests >= c.Rate.General.MaxRequests {
		return errors.New("rate.auth.max_requests must be stricter than api and general tiers")
	}
	if c.Rate.MaxKeys <= 0 {
		return errors.New("rate.max_keys must be positive")
	}
	if c.Validation.MaxBodyBytes <= 0 {
		return errors.New("validation.max_body_bytes must be positive")
	}
	if c.Upstream.BaseURL == "" {
		return errors.New("upstream.base_url required")
	}
	if len(c.Locales.Supported) == 0 {
		return errors.New("locales.supported must not be empty")
	}
	// Route classification keys on two-letter path segments; anything else
	// would carry a locale prefix yet match none of the route patterns.
	for _, l := range c.Locales.Supported {
		if !localeCode.MatchString(l) {
			return fmt.Errorf("locales.supported: %q is not a two-letter lowercase code", l)
		}
	}
	found := false
	for _, l := range c.Locales.Supported {
		if l == c.Locales.Default {
			found = true
			break
		}
	}
	if !found {
		return errors.New("locales.default must be one of locales.supported")
	}
	return nil
}
