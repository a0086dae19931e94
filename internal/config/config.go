// Package config loads coddy's configuration from a YAML file, CODDY_*
// environment variables and secret files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"coddy/internal/store"
)

// DefaultFile is read when no --config flag is given. Its absence is not
// an error.
const DefaultFile = "coddy.yaml"

// Agent kinds.
const (
	AgentCursor = "cursor"
	AgentStub   = "stub"
)

// Config is the complete coddy configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Bot       BotConfig       `mapstructure:"bot"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Ralph     RalphConfig     `mapstructure:"ralph"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// BotConfig identifies the tracked actor and its working checkout.
type BotConfig struct {
	// Login is the platform account issues get assigned to.
	Login string `mapstructure:"login"`
	// Name and Email are the git commit identity. Commits are made only
	// when both are set.
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
	// Repository is "owner/name" of the repository the bot works in.
	Repository string `mapstructure:"repository"`
	// RepoDir is the local checkout the agent edits.
	RepoDir       string `mapstructure:"repo_dir"`
	DefaultBranch string `mapstructure:"default_branch"`
	// Affirmations replaces the built-in confirmation phrases.
	Affirmations []string `mapstructure:"affirmations"`
}

// CommitEnabled reports whether a commit identity is configured.
func (b BotConfig) CommitEnabled() bool { return b.Name != "" && b.Email != "" }

// GitHubConfig holds API access.
type GitHubConfig struct {
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token_file"`
	APIURL    string `mapstructure:"api_url"`
}

// WebhookConfig configures the observer's HTTP endpoint.
type WebhookConfig struct {
	Addr       string `mapstructure:"addr"`
	Path       string `mapstructure:"path"`
	Secret     string `mapstructure:"secret"`
	SecretFile string `mapstructure:"secret_file"`
}

// SchedulerConfig controls the idle-assignment timer.
type SchedulerConfig struct {
	Idle     time.Duration `mapstructure:"idle"`
	Interval time.Duration `mapstructure:"interval"`
	// PlanOnAssign plans right after an assignment instead of waiting for
	// the idle threshold.
	PlanOnAssign bool `mapstructure:"plan_on_assign"`
}

// WorkerConfig controls queue polling.
type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Watch enables fsnotify wake-ups on record changes.
	Watch bool `mapstructure:"watch"`
}

// RalphConfig bounds the implementation loop.
type RalphConfig struct {
	MaxIterations int `mapstructure:"max_iterations"`
}

// AgentConfig selects and configures the AI agent.
type AgentConfig struct {
	Kind         string        `mapstructure:"kind"`
	Command      string        `mapstructure:"command"`
	Model        string        `mapstructure:"model"`
	OutputFormat string        `mapstructure:"output_format"`
	APIKey       string        `mapstructure:"api_key"`
	APIKeyFile   string        `mapstructure:"api_key_file"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PlanTimeout  time.Duration `mapstructure:"plan_timeout"`
	PTY          bool          `mapstructure:"pty"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// TracingConfig configures OTLP export. An empty endpoint falls back to
// OTEL_EXPORTER_OTLP_ENDPOINT.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: ".coddy-data",
		Bot: BotConfig{
			RepoDir: ".",
		},
		Webhook: WebhookConfig{
			Addr: ":8080",
			Path: "/webhook",
		},
		Scheduler: SchedulerConfig{
			Idle:     10 * time.Minute,
			Interval: 30 * time.Second,
		},
		Worker: WorkerConfig{
			PollInterval: 30 * time.Second,
			Watch:        true,
		},
		Ralph: RalphConfig{
			MaxIterations: 10,
		},
		Agent: AgentConfig{
			Kind:        AgentCursor,
			Command:     "agent",
			Timeout:     30 * time.Minute,
			PlanTimeout: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every key with v so environment overrides apply to
// keys absent from the file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("data_dir", d.DataDir)

	v.SetDefault("bot.login", d.Bot.Login)
	v.SetDefault("bot.name", d.Bot.Name)
	v.SetDefault("bot.email", d.Bot.Email)
	v.SetDefault("bot.repository", d.Bot.Repository)
	v.SetDefault("bot.repo_dir", d.Bot.RepoDir)
	v.SetDefault("bot.default_branch", d.Bot.DefaultBranch)
	v.SetDefault("bot.affirmations", d.Bot.Affirmations)

	v.SetDefault("github.token", d.GitHub.Token)
	v.SetDefault("github.token_file", d.GitHub.TokenFile)
	v.SetDefault("github.api_url", d.GitHub.APIURL)

	v.SetDefault("webhook.addr", d.Webhook.Addr)
	v.SetDefault("webhook.path", d.Webhook.Path)
	v.SetDefault("webhook.secret", d.Webhook.Secret)
	v.SetDefault("webhook.secret_file", d.Webhook.SecretFile)

	v.SetDefault("scheduler.idle", d.Scheduler.Idle)
	v.SetDefault("scheduler.interval", d.Scheduler.Interval)
	v.SetDefault("scheduler.plan_on_assign", d.Scheduler.PlanOnAssign)

	v.SetDefault("worker.poll_interval", d.Worker.PollInterval)
	v.SetDefault("worker.watch", d.Worker.Watch)

	v.SetDefault("ralph.max_iterations", d.Ralph.MaxIterations)

	v.SetDefault("agent.kind", d.Agent.Kind)
	v.SetDefault("agent.command", d.Agent.Command)
	v.SetDefault("agent.model", d.Agent.Model)
	v.SetDefault("agent.output_format", d.Agent.OutputFormat)
	v.SetDefault("agent.api_key", d.Agent.APIKey)
	v.SetDefault("agent.api_key_file", d.Agent.APIKeyFile)
	v.SetDefault("agent.timeout", d.Agent.Timeout)
	v.SetDefault("agent.plan_timeout", d.Agent.PlanTimeout)
	v.SetDefault("agent.pty", d.Agent.PTY)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)

	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// NewViper returns a viper instance with defaults and environment bindings.
// Besides CODDY_<SECTION>_<KEY>, the conventional unprefixed names are
// honoured for secrets.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CODDY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("github.token", "CODDY_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("github.token_file", "CODDY_GITHUB_TOKEN_FILE", "GITHUB_TOKEN_FILE")
	_ = v.BindEnv("webhook.secret", "CODDY_WEBHOOK_SECRET", "WEBHOOK_SECRET")
	_ = v.BindEnv("webhook.secret_file", "CODDY_WEBHOOK_SECRET_FILE", "WEBHOOK_SECRET_FILE")
	_ = v.BindEnv("agent.api_key", "CODDY_AGENT_API_KEY", "CURSOR_API_KEY")
	return v
}

// Load reads path (DefaultFile when empty, which may be missing), applies
// the environment, resolves secret files and validates the result.
func Load(path string) (*Config, error) {
	v := NewViper()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolveSecrets() error {
	var err error
	if c.GitHub.Token, err = secret(c.GitHub.Token, c.GitHub.TokenFile); err != nil {
		return fmt.Errorf("github token: %w", err)
	}
	if c.Webhook.Secret, err = secret(c.Webhook.Secret, c.Webhook.SecretFile); err != nil {
		return fmt.Errorf("webhook secret: %w", err)
	}
	if c.Agent.APIKey, err = secret(c.Agent.APIKey, c.Agent.APIKeyFile); err != nil {
		return fmt.Errorf("agent api key: %w", err)
	}
	return nil
}

// secret returns value, or the trimmed content of file when value is empty.
func secret(value, file string) (string, error) {
	if value != "" || file == "" {
		return value, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Bot.Login == "" {
		errs = append(errs, errors.New("bot.login is required"))
	}
	if c.Bot.Repository != "" {
		if _, _, err := store.SplitRepo(c.Bot.Repository); err != nil {
			errs = append(errs, fmt.Errorf("bot.repository: %w", err))
		}
	}
	if c.Scheduler.Idle <= 0 {
		errs = append(errs, errors.New("scheduler.idle must be positive"))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("worker.poll_interval must be positive"))
	}
	if c.Ralph.MaxIterations <= 0 {
		errs = append(errs, errors.New("ralph.max_iterations must be positive"))
	}
	switch c.Agent.Kind {
	case AgentCursor:
		if c.Agent.Command == "" {
			errs = append(errs, errors.New("agent.command is required for the cursor agent"))
		}
	case AgentStub:
	default:
		errs = append(errs, fmt.Errorf("agent.kind must be %q or %q, got %q", AgentCursor, AgentStub, c.Agent.Kind))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// StoreDir is the record store root.
func (c *Config) StoreDir() string { return filepath.Join(c.DataDir, "store") }

// LogFile resolves logging.file relative to the data directory.
func (c *Config) LogFile() string {
	if c.Logging.File == "" || filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(c.DataDir, c.Logging.File)
}
