package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Cache    CacheConfig    `yaml:"cache"`
	Agent    AgentConfig    `yaml:"agent"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Ingest   IngestConfig   `yaml:"ingest"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	CORSAllowOrigin string        `yaml:"cors_allow_origin"`
}

type DynamoDBConfig struct {
	Table         string `yaml:"table"`
	Region        string `yaml:"region"`
	AssumeRoleARN string `yaml:"assume_role_arn"`
	ExternalID    string `yaml:"external_id"`
	Endpoint      string `yaml:"endpoint"` // local DynamoDB override
}

type CacheConfig struct {
	Dir              string  `yaml:"dir"`
	CriticalTTLHours float64 `yaml:"critical_ttl_hours"`
}

type AgentConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
	WorkDir string        `yaml:"work_dir"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
	Users       []UserConfig  `yaml:"users"`
}

// UserConfig is one statically provisioned dashboard login. PasswordHash is
// a bcrypt hash; plaintext passwords are never stored.
type UserConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

type RefreshConfig struct {
	Schedule string `yaml:"schedule"` // cron expression, empty disables
}

type IngestConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}

	if c.DynamoDB.Table == "" {
		c.DynamoDB.Table = "chaplin-health-events"
	}
	if c.DynamoDB.Region == "" {
		c.DynamoDB.Region = "us-east-1"
	}

	if c.Cache.Dir == "" {
		c.Cache.Dir = "output"
	}
	if c.Cache.CriticalTTLHours == 0 {
		c.Cache.CriticalTTLHours = 1
	}

	if c.Agent.Command == "" {
		c.Agent.Command = "python3"
	}
	if len(c.Agent.Args) == 0 {
		c.Agent.Args = []string{"agents/agentic_analysis.py"}
	}
	if c.Agent.Timeout == 0 {
		c.Agent.Timeout = 60 * time.Second
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "change-me-in-production"
		fmt.Println("WARNING: Using default JWT secret. Set auth.jwt_secret in production!")
	}
	if c.Auth.TokenExpiry == 0 {
		c.Auth.TokenExpiry = 12 * time.Hour
	}
}
