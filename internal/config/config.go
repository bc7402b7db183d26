package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all chatwidget configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Widget  WidgetConfig  `yaml:"widget"`
	Web     WebConfig     `yaml:"web"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig describes the single endpoint the widget talks to.
type BackendConfig struct {
	Endpoint      string            `yaml:"endpoint"`
	QuestionField string            `yaml:"question_field"`
	AnswerField   string            `yaml:"answer_field"`
	Timeout       string            `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers,omitempty"`
	Extra         map[string]any    `yaml:"extra,omitempty"` // fixed payload fields sent with every question
}

// WidgetConfig holds the user-visible texts and rendering mode.
type WidgetConfig struct {
	Greeting           string `yaml:"greeting"`
	LoadingText        string `yaml:"loading_text"`
	ServerErrorText    string `yaml:"server_error_text"`
	NetworkErrorPrefix string `yaml:"network_error_prefix"`
	AssistantName      string `yaml:"assistant_name"`
	Render             string `yaml:"render"` // markdown, plain
}

// WebConfig configures the embedded browser widget server.
type WebConfig struct {
	Listen          string `yaml:"listen"`
	Title           string `yaml:"title"`
	Proxy           bool   `yaml:"proxy"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// HistoryConfig configures optional transcript persistence.
type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// Render modes.
const (
	RenderMarkdown = "markdown"
	RenderPlain    = "plain"
)

// DefaultPath is where the config lives relative to the workspace.
const DefaultPath = ".chatwidget/config.yaml"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Endpoint:      "http://localhost:8000/ask",
			QuestionField: "question",
			AnswerField:   "answer",
			Timeout:       "60s",
		},
		Widget: WidgetConfig{
			Greeting:           "Hello! Ask me anything.",
			LoadingText:        "Generating a response...",
			ServerErrorText:    "Server error: no response was received.",
			NetworkErrorPrefix: "Network error: ",
			AssistantName:      "Assistant",
			Render:             RenderMarkdown,
		},
		Web: WebConfig{
			Listen:          "127.0.0.1:8080",
			Title:           "Chat",
			Proxy:           true,
			ShutdownTimeout: "5s",
		},
		History: HistoryConfig{
			Enabled:      false,
			DatabasePath: ".chatwidget/history.db",
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
			Format:    "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.fillDefaults()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CHATWIDGET_ENDPOINT"); v != "" {
		c.Backend.Endpoint = v
	}
	if v := os.Getenv("CHATWIDGET_QUESTION_FIELD"); v != "" {
		c.Backend.QuestionField = v
	}
	if v := os.Getenv("CHATWIDGET_ANSWER_FIELD"); v != "" {
		c.Backend.AnswerField = v
	}
	if v := os.Getenv("CHATWIDGET_TIMEOUT"); v != "" {
		c.Backend.Timeout = v
	}
	if v := os.Getenv("CHATWIDGET_LISTEN"); v != "" {
		c.Web.Listen = v
	}
	if v := os.Getenv("CHATWIDGET_HISTORY_DB"); v != "" {
		c.History.DatabasePath = v
		c.History.Enabled = true
	}
	switch strings.ToLower(os.Getenv("CHATWIDGET_DEBUG")) {
	case "1", "true", "yes":
		c.Logging.DebugMode = true
	case "0", "false", "no":
		c.Logging.DebugMode = false
	}
}

// fillDefaults restores defaults for fields a partial file left blank.
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.Backend.QuestionField == "" {
		c.Backend.QuestionField = def.Backend.QuestionField
	}
	if c.Backend.AnswerField == "" {
		c.Backend.AnswerField = def.Backend.AnswerField
	}
	if c.Widget.LoadingText == "" {
		c.Widget.LoadingText = def.Widget.LoadingText
	}
	if c.Widget.ServerErrorText == "" {
		c.Widget.ServerErrorText = def.Widget.ServerErrorText
	}
	if c.Widget.NetworkErrorPrefix == "" {
		c.Widget.NetworkErrorPrefix = def.Widget.NetworkErrorPrefix
	}
	if c.Widget.AssistantName == "" {
		c.Widget.AssistantName = def.Widget.AssistantName
	}
	if c.Widget.Render == "" {
		c.Widget.Render = def.Widget.Render
	}
}

// GetBackendTimeout returns the request timeout as a duration.
func (c *Config) GetBackendTimeout() time.Duration {
	d, err := time.ParseDuration(c.Backend.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// GetShutdownTimeout returns the web server shutdown grace period.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Web.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// EndpointPath returns the path component of the backend endpoint, which the
// browser widget calls when the server proxies it.
func (c *Config) EndpointPath() string {
	u, err := url.Parse(c.Backend.Endpoint)
	if err != nil || u.Path == "" {
		return "/ask"
	}
	return u.Path
}

// ValidRenderModes lists accepted widget.render values.
var ValidRenderModes = []string{RenderMarkdown, RenderPlain}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Backend.Endpoint == "" {
		return fmt.Errorf("backend endpoint not configured (set backend.endpoint or CHATWIDGET_ENDPOINT)")
	}
	u, err := url.Parse(c.Backend.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid backend endpoint %q: %w", c.Backend.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid backend endpoint %q: scheme must be http or https", c.Backend.Endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid backend endpoint %q: missing host", c.Backend.Endpoint)
	}

	if strings.TrimSpace(c.Backend.QuestionField) == "" {
		return fmt.Errorf("backend.question_field must not be empty")
	}
	if strings.TrimSpace(c.Backend.AnswerField) == "" {
		return fmt.Errorf("backend.answer_field must not be empty")
	}
	if _, clash := c.Backend.Extra[c.Backend.QuestionField]; clash {
		return fmt.Errorf("backend.extra must not contain the question field %q", c.Backend.QuestionField)
	}

	if c.Backend.Timeout != "" {
		if _, err := time.ParseDuration(c.Backend.Timeout); err != nil {
			return fmt.Errorf("invalid backend.timeout %q: %w", c.Backend.Timeout, err)
		}
	}

	validRender := false
	for _, m := range ValidRenderModes {
		if c.Widget.Render == m {
			validRender = true
			break
		}
	}
	if !validRender {
		return fmt.Errorf("invalid widget.render: %s (valid: %v)", c.Widget.Render, ValidRenderModes)
	}

	if c.History.Enabled && c.History.DatabasePath == "" {
		return fmt.Errorf("history.database_path must be set when history is enabled")
	}

	return nil
}

// ResolvePath joins a workspace-relative path onto the workspace root.
// Absolute paths and the SQLite in-memory name are returned unchanged.
func ResolvePath(workspace, p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) || workspace == "" {
		return p
	}
	return filepath.Join(workspace, p)
}
