package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alwaleedzmd-droid/Dar-Wa-Emaar-Project-Tracker/internal/domain"
)

const (
	BackendSQLite = "sqlite"
	BackendLibSQL = "libsql"
)

// Config models dar.yml.
type Config struct {
	Storage struct {
		Backend string `yaml:"backend"`
		DSN     string `yaml:"dsn,omitempty"`
	} `yaml:"storage"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"server"`
	Workflow struct {
		ConveyanceReviewer string `yaml:"conveyance_reviewer"`
		TechnicalReviewer  string `yaml:"technical_reviewer"`
	} `yaml:"workflow"`
	Locations []string `yaml:"locations"`
	Seed      struct {
		Users []SeedUser `yaml:"users"`
	} `yaml:"seed"`
}

// SeedUser is installed when the store holds no users yet.
type SeedUser struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite:
	case BackendLibSQL:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("config.storage.dsn is required for backend %s", BackendLibSQL)
		}
	default:
		return fmt.Errorf("config.storage.backend must be %q or %q", BackendSQLite, BackendLibSQL)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.TokenTTL != "" {
		if d, err := time.ParseDuration(c.Server.TokenTTL); err != nil || d <= 0 {
			return fmt.Errorf("config.server.token_ttl must be a positive duration")
		}
	}
	if c.Workflow.ConveyanceReviewer == "" || c.Workflow.TechnicalReviewer == "" {
		return fmt.Errorf("config.workflow reviewers are required")
	}
	seen := map[string]bool{}
	for _, loc := range c.Locations {
		if strings.TrimSpace(loc) == "" {
			return fmt.Errorf("config.locations contains an empty entry")
		}
		if seen[loc] {
			return fmt.Errorf("config.locations lists %s twice", loc)
		}
		seen[loc] = true
	}
	emails := map[string]bool{}
	for i, u := range c.Seed.Users {
		if u.Name == "" || u.Email == "" || u.Password == "" {
			return fmt.Errorf("seed user %d needs name, email and password", i)
		}
		if !domain.Role(u.Role).Valid() {
			return fmt.Errorf("seed user %s has unknown role %s", u.Email, u.Role)
		}
		key := strings.ToLower(u.Email)
		if emails[key] {
			return fmt.Errorf("seed user email %s is duplicated", u.Email)
		}
		emails[key] = true
	}
	return nil
}

// TokenTTL returns the login token lifetime, 12h when unset.
func (c *Config) TokenTTL() time.Duration {
	if d, err := time.ParseDuration(c.Server.TokenTTL); err == nil && d > 0 {
		return d
	}
	return 12 * time.Hour
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "dar.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the parsed default config.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with dar init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err != nil {
		if _, statErr := os.Stat(Path(workspace)); os.IsNotExist(statErr) {
			return nil, nil
		}
		return nil, err
	}
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendSQLite
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `storage:
  backend: sqlite

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  token_ttl: 12h

workflow:
  conveyance_reviewer: كتابة العدل
  technical_reviewer: القسم الفني

locations:
  - الرياض
  - جدة
  - المدينة المنورة
  - المنطقة الشرقية
  - القطيف

# Installed on first start; passwords are hashed before they are stored.
seed:
  users:
    - {name: مدير النظام, email: admin@dar.sa, role: ADMIN, password: "123"}
    - {name: مدير علاقات عامة, email: manager@dar.sa, role: PR_MANAGER, password: "123"}
    - {name: مسؤول علاقات عامة, email: officer@dar.sa, role: PR_OFFICER, password: "123"}
    - {name: القسم الفني, email: tech@dar.sa, role: TECHNICAL, password: "123"}
    - {name: موظف الإفراغات, email: conveyance@dar.sa, role: CONVEYANCE, password: "123"}
    - {name: المالية, email: finance@dar.sa, role: FINANCE, password: "123"}
`
