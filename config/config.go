package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Credentials CredentialsConfig `yaml:"credentials" mapstructure:"credentials"`
	Portal      PortalConfig      `yaml:"portal" mapstructure:"portal"`
	Login       LoginConfig       `yaml:"login" mapstructure:"login"`
	Browser     BrowserConfig     `yaml:"browser" mapstructure:"browser"`
	Booking     BookingConfig     `yaml:"booking" mapstructure:"booking"`
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Report      ReportConfig      `yaml:"report" mapstructure:"report"`
	Limits      LimitsConfig      `yaml:"limits" mapstructure:"limits"`
	Storage     StorageConfig     `yaml:"storage" mapstructure:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard" mapstructure:"dashboard"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
}

// CredentialsConfig points at the credential file. Identifier and secret
// may also come from the environment.
type CredentialsConfig struct {
	File       string `yaml:"file" mapstructure:"file"`
	Identifier string `yaml:"identifier,omitempty" mapstructure:"identifier"`
	Secret     string `yaml:"secret,omitempty" mapstructure:"secret"`
	EntryURL   string `yaml:"entry_url,omitempty" mapstructure:"entry_url"`
}

// PortalConfig contains learning portal locations
type PortalConfig struct {
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`
	ProbeURL       string        `yaml:"probe_url" mapstructure:"probe_url"`
	CalendarURL    string        `yaml:"calendar_url" mapstructure:"calendar_url"`
	GroupsURL      string        `yaml:"groups_url" mapstructure:"groups_url"`
	ClassListURL   string        `yaml:"class_list_url" mapstructure:"class_list_url"`
	ExtraHosts     []string      `yaml:"extra_hosts" mapstructure:"extra_hosts"`
	SessionFile    string        `yaml:"session_file" mapstructure:"session_file"`
	GroupKeyword   string        `yaml:"group_keyword" mapstructure:"group_keyword"`
	RetryAttempts  int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryFirstWait time.Duration `yaml:"retry_first_wait" mapstructure:"retry_first_wait"`
	RetryWait      time.Duration `yaml:"retry_wait" mapstructure:"retry_wait"`
}

// LoginConfig tunes the federated login sequence
type LoginConfig struct {
	FormID         string        `yaml:"form_id" mapstructure:"form_id"`
	UserAgent      string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxSteps       int           `yaml:"max_steps" mapstructure:"max_steps"`
	PollInterval   time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	MFATimeout     time.Duration `yaml:"mfa_timeout" mapstructure:"mfa_timeout"`
	ManualTimeout  time.Duration `yaml:"manual_timeout" mapstructure:"manual_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	AuthMarkers    []string      `yaml:"auth_markers" mapstructure:"auth_markers"`
	MFAMarkers     []string      `yaml:"mfa_markers" mapstructure:"mfa_markers"`
	PendingMarkers []string      `yaml:"pending_markers" mapstructure:"pending_markers"`
	KMSIMarkers    []string      `yaml:"kmsi_markers" mapstructure:"kmsi_markers"`
	ErrorMarkers   []string      `yaml:"error_markers" mapstructure:"error_markers"`
}

// BrowserConfig contains browser automation settings
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" mapstructure:"headless"`
	SlowMo         time.Duration `yaml:"slow_mo" mapstructure:"slow_mo"`
	ViewportWidth  int           `yaml:"viewport_width" mapstructure:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" mapstructure:"viewport_height"`
	UserAgent      string        `yaml:"user_agent" mapstructure:"user_agent"`
	ExecutablePath string        `yaml:"executable_path" mapstructure:"executable_path"`
	ProfileDir     string        `yaml:"profile_dir" mapstructure:"profile_dir"`
	PageTimeout    time.Duration `yaml:"page_timeout" mapstructure:"page_timeout"`
	TypeDelayMin   time.Duration `yaml:"type_delay_min" mapstructure:"type_delay_min"`
	TypeDelayMax   time.Duration `yaml:"type_delay_max" mapstructure:"type_delay_max"`
}

// BookingConfig contains the room booking site settings
type BookingConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	SessionFile string `yaml:"session_file" mapstructure:"session_file"`
	ConfigFile  string `yaml:"config_file" mapstructure:"config_file"`
}

// LLMConfig selects the planning model
type LLMConfig struct {
	Provider     string        `yaml:"provider" mapstructure:"provider"`
	APIKey       string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Model        string        `yaml:"model" mapstructure:"model"`
	MaxTokens    int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature  float64       `yaml:"temperature" mapstructure:"temperature"`
	ChunkTokens  int           `yaml:"chunk_tokens" mapstructure:"chunk_tokens"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Stream       bool          `yaml:"stream" mapstructure:"stream"`
	SystemPrompt string        `yaml:"system_prompt" mapstructure:"system_prompt"`
	DefaultQuery string        `yaml:"default_query" mapstructure:"default_query"`
}

// ReportConfig controls the text report
type ReportConfig struct {
	Output     string `yaml:"output" mapstructure:"output"`
	WindowDays int    `yaml:"window_days" mapstructure:"window_days"`
}

// LimitsConfig contains pacing settings for portal actions
type LimitsConfig struct {
	MinDelay      time.Duration `yaml:"min_delay" mapstructure:"min_delay"`
	MaxDelay      time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	DailyBookings int           `yaml:"daily_bookings" mapstructure:"daily_bookings"`
	DailyPages    int           `yaml:"daily_pages" mapstructure:"daily_pages"`
	LLMDelay      time.Duration `yaml:"llm_delay" mapstructure:"llm_delay"`
	DailyLLM      int           `yaml:"daily_llm" mapstructure:"daily_llm"`
}

// StorageConfig contains database settings
type StorageConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DashboardConfig contains the local web dashboard settings
type DashboardConfig struct {
	Addr           string `yaml:"addr" mapstructure:"addr"`
	WeeklySchedule string `yaml:"weekly_schedule" mapstructure:"weekly_schedule"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

// Credential is the operator's login input. It is read once and never written.
type Credential struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
	EntryURL   string `json:"entry_url"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || isMissing(configPath) {
			if err := createDefaultConfig(v, configPath); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	overrideFromEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func isMissing(path string) bool {
	_, err := os.Stat(path)
	return os.IsNotExist(err)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("credentials.file", "credentials.json")

	v.SetDefault("portal.base_url", "https://learning.london.edu")
	v.SetDefault("portal.probe_url", "https://learning.london.edu/")
	v.SetDefault("portal.calendar_url", "https://learning.london.edu/calendar#view_name=agenda")
	v.SetDefault("portal.groups_url", "https://learning.london.edu/groups")
	v.SetDefault("portal.class_list_url", "https://learning.london.edu/courses/11291/external_tools/2158")
	v.SetDefault("portal.extra_hosts", []string{})
	v.SetDefault("portal.session_file", "session.json")
	v.SetDefault("portal.group_keyword", "Study Group")
	v.SetDefault("portal.retry_attempts", 3)
	v.SetDefault("portal.retry_first_wait", "500ms")
	v.SetDefault("portal.retry_wait", "5s")

	v.SetDefault("login.form_id", "i0281")
	v.SetDefault("login.user_agent", defaultUserAgent)
	v.SetDefault("login.max_steps", 10)
	v.SetDefault("login.poll_interval", "3s")
	v.SetDefault("login.mfa_timeout", "5m")
	v.SetDefault("login.manual_timeout", "5m")
	v.SetDefault("login.request_timeout", "0s")
	v.SetDefault("login.auth_markers", []string{"login", "auth", "microsoft", "saml"})
	v.SetDefault("login.mfa_markers", []string{"idRichContext_DisplaySign", "Approve sign in request", "urlEndAuth"})
	v.SetDefault("login.pending_markers", []string{"idRichContext_DisplaySign", "Approve sign in request"})
	v.SetDefault("login.kmsi_markers", []string{"KmsiInterrupt", "Stay signed in"})
	v.SetDefault("login.error_markers", []string{"Your account or password is incorrect", "This username may be incorrect"})

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.slow_mo", "0s")
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.user_agent", defaultUserAgent)
	v.SetDefault("browser.page_timeout", "30s")
	v.SetDefault("browser.type_delay_min", "40ms")
	v.SetDefault("browser.type_delay_max", "120ms")

	v.SetDefault("booking.base_url", "https://lbsmobile.london.edu")
	v.SetDefault("booking.session_file", "lbsmobile_session.json")
	v.SetDefault("booking.config_file", "room_booking_config.json")

	v.SetDefault("llm.provider", "claude")
	v.SetDefault("llm.model", "claude-sonnet-4-5")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.chunk_tokens", 6000)
	v.SetDefault("llm.timeout", "2m")
	v.SetDefault("llm.stream", true)
	v.SetDefault("llm.system_prompt", "You help a business school student plan their week. Be concise and concrete.")
	v.SetDefault("llm.default_query", "Plan my week: list deadlines in order and suggest when the study group should meet.")

	v.SetDefault("report.output", "study_group_report.md")
	v.SetDefault("report.window_days", 14)

	v.SetDefault("limits.min_delay", "300ms")
	v.SetDefault("limits.max_delay", "1500ms")
	v.SetDefault("limits.daily_bookings", 3)
	v.SetDefault("limits.daily_pages", 500)
	v.SetDefault("limits.llm_delay", "1s")
	v.SetDefault("limits.daily_llm", 200)

	v.SetDefault("storage.path", "./data/assistant.db")

	v.SetDefault("dashboard.addr", "127.0.0.1:5000")
	v.SetDefault("dashboard.weekly_schedule", "0 7 * * 1")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// createDefaultConfig writes the current defaults to configPath so the
// operator has a file to edit. Secrets are never written.
func createDefaultConfig(v *viper.Viper, configPath string) error {
	settings := v.AllSettings()
	if creds, ok := settings["credentials"].(map[string]interface{}); ok {
		delete(creds, "identifier")
		delete(creds, "secret")
	}
	if llm, ok := settings["llm"].(map[string]interface{}); ok {
		delete(llm, "api_key")
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(configPath, data, 0644)
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv(v *viper.Viper) {
	if id := os.Getenv("PORTAL_IDENTIFIER"); id != "" {
		v.Set("credentials.identifier", id)
	}
	if secret := os.Getenv("PORTAL_SECRET"); secret != "" {
		v.Set("credentials.secret", secret)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && v.GetString("llm.provider") == "claude" {
		v.Set("llm.api_key", key)
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && v.GetString("llm.provider") == "gemini" {
		v.Set("llm.api_key", key)
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if _, err := url.Parse(config.Portal.BaseURL); err != nil || config.Portal.BaseURL == "" {
		return fmt.Errorf("portal base_url must be a valid URL")
	}
	if config.Login.PollInterval <= 0 {
		return fmt.Errorf("login poll_interval must be positive")
	}
	if config.Login.MFATimeout < config.Login.PollInterval {
		return fmt.Errorf("login mfa_timeout must be at least one poll_interval")
	}
	if config.Login.MaxSteps <= 0 {
		return fmt.Errorf("login max_steps must be positive")
	}
	switch config.LLM.Provider {
	case "claude", "gemini":
	default:
		return fmt.Errorf("unknown llm provider %q", config.LLM.Provider)
	}
	return nil
}

// LoadCredentials reads the credential file and applies any identifier or
// secret supplied through the environment-aware configuration.
func LoadCredentials(cfg *Config) (*Credential, error) {
	cred := &Credential{}

	if cfg.Credentials.File != "" {
		data, err := os.ReadFile(cfg.Credentials.File)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, cred); err != nil {
				return nil, fmt.Errorf("failed to parse credential file: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read credential file: %w", err)
		}
	}

	if cfg.Credentials.Identifier != "" {
		cred.Identifier = cfg.Credentials.Identifier
	}
	if cfg.Credentials.Secret != "" {
		cred.Secret = cfg.Credentials.Secret
	}
	if cfg.Credentials.EntryURL != "" {
		cred.EntryURL = cfg.Credentials.EntryURL
	}
	if cred.EntryURL == "" {
		cred.EntryURL = cfg.Portal.ProbeURL
	}

	if cred.Identifier == "" {
		return nil, fmt.Errorf("credential identifier is required")
	}
	if cred.Secret == "" {
		return nil, fmt.Errorf("credential secret is required")
	}
	return cred, nil
}
