package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"hourline/internal/domain"
)

var validate = validator.New()

// Config models hourline.yml.
type Config struct {
	Proof struct {
		// Required maps claim kind to whether a proof reference must be
		// supplied at submission time.
		Required map[string]bool `yaml:"required"`
	} `yaml:"proof"`
	Consent struct {
		EnforceMinors bool `yaml:"enforce_minors"`
	} `yaml:"consent"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" validate:"dive"`
}

// WebhookConfig describes one downstream consumer of the audit feed, such as
// a badge or leaderboard aggregator subscribing to claim.approved.
type WebhookConfig struct {
	URL            string   `yaml:"url" validate:"required,url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	OrgID          string   `yaml:"org_id,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" validate:"gte=0"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// ProofRequired reports whether the kind mandates a proof reference.
func (c *Config) ProofRequired(kind domain.ClaimKind) bool {
	if c == nil || c.Proof.Required == nil {
		return defaultProofRequired(kind)
	}
	required, ok := c.Proof.Required[string(kind)]
	if !ok {
		return defaultProofRequired(kind)
	}
	return required
}

func defaultProofRequired(kind domain.ClaimKind) bool {
	return kind == domain.KindDonation || kind == domain.KindAdHocService
}

// Validate checks struct tags and cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	for kind := range c.Proof.Required {
		if !domain.ClaimKind(kind).Valid() {
			return fmt.Errorf("config.proof.required references unknown claim kind %s", kind)
		}
	}
	for _, hook := range c.Webhooks {
		for _, evt := range hook.Events {
			if evt == "" {
				return fmt.Errorf("webhook %s has empty event filter entry", hook.URL)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "hourline.yml")
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", Path(workspace))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `proof:
  required:
    scheduled_event: false
    donation: true
    ad_hoc_service: true
    other: false

consent:
  enforce_minors: true

auth:
  allow_legacy_actor_header: false
`
