package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"PostForge/internal/domain"
)

const (
	defaultTimezone    = "Europe/Moscow"
	fallbackTimezone   = "UTC"
	configPathEnv      = "POSTFORGE_CONFIG"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChannelEnv = "TELEGRAM_CHANNEL_ID"
	telegramOperEnv    = "TELEGRAM_OPERATOR_CHAT_ID"
	anthropicAPIKeyEnv = "ANTHROPIC_API_KEY"
	chatGPTAPIKeyEnv   = "CHATGPT_API_KEY"
	tavilyAPIKeyEnv    = "TAVILY_API_KEY"
	publishHourEnv     = "PUBLISH_HOUR"
	logLevelEnv        = "LOG_LEVEL"
	storageDriverEnv   = "STORAGE_DRIVER"

	maxPublishAttempts = 3
)

// Generation providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderChatGPT   = "chatgpt"
)

// Storage drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Generation GenerationConfig `yaml:"generation"`
	Research   ResearchConfig   `yaml:"research"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Publish    PublishConfig    `yaml:"publish"`
	TopicFile  string           `yaml:"topicFile"`
	Topic      domain.Topic     `yaml:"topic"`
}

// LoggingConfig selects the console log level and format and where run traces go.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	TraceDir string `yaml:"traceDir"`
}

// StorageConfig picks the record store substrate.
type StorageConfig struct {
	Driver     string `yaml:"driver"`
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlitePath"`
	PlansDir   string `yaml:"plansDir"`
}

// SchedulerConfig defines when the daily publish fires.
type SchedulerConfig struct {
	PublishHour   int            `yaml:"publishHour"`
	PublishMinute int            `yaml:"publishMinute"`
	Timezone      string         `yaml:"timezone"`
	location      *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GenerationConfig selects and configures the LLM provider.
type GenerationConfig struct {
	Provider          string          `yaml:"provider"`
	RequestsPerMinute float64         `yaml:"requestsPerMinute"`
	Anthropic         AnthropicConfig `yaml:"anthropic"`
	ChatGPT           ChatGPTConfig   `yaml:"chatgpt"`
}

// AnthropicConfig defines how to contact the Messages API.
type AnthropicConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
}

// ChatGPTConfig defines how to contact an OpenAI-compatible chat completions API.
type ChatGPTConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ResearchConfig describes the web search service.
type ResearchConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BaseURL           string  `yaml:"baseUrl"`
	BotToken          string  `yaml:"botToken"`
	ChannelID         string  `yaml:"channelId"`
	OperatorChatID    string  `yaml:"operatorChatId"`
	MessagesPerSecond float64 `yaml:"messagesPerSecond"`
}

// PipelineConfig tunes the content pipeline.
type PipelineConfig struct {
	MaxSources    int            `yaml:"maxSources"`
	MinDraftChars int            `yaml:"minDraftChars"`
	PromptsDir    string         `yaml:"promptsDir"`
	Timeouts      TimeoutsConfig `yaml:"timeouts"`
}

// TimeoutsConfig bounds each collaborator call.
type TimeoutsConfig struct {
	Research   time.Duration `yaml:"research"`
	Generation time.Duration `yaml:"generation"`
}

// PublishConfig controls delivery retries.
type PublishConfig struct {
	Attempts int             `yaml:"attempts"`
	Backoff  []time.Duration `yaml:"backoff"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			// yaml.v3 merges into existing maps, so the default topic is only kept
			// when the file has no topic of its own.
			cfg.Topic = domain.Topic{}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
				cfg = defaultConfig()
			}
			if isZeroTopic(cfg.Topic) {
				cfg.Topic = defaultConfig().Topic
			}
		}
	}

	cfg.loadTopicFile()
	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	cfg.clampPublishAttempts()

	return cfg
}

func (c *Config) loadTopicFile() {
	if c.TopicFile == "" {
		return
	}
	raw, err := os.ReadFile(c.TopicFile)
	if err != nil {
		log.Printf("config: cannot read topic file %s: %v", c.TopicFile, err)
		return
	}
	var topic domain.Topic
	if err := yaml.Unmarshal(raw, &topic); err != nil {
		log.Printf("config: cannot parse topic file %s: %v", c.TopicFile, err)
		return
	}
	c.Topic = topic
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChannelEnv); v != "" {
		c.Telegram.ChannelID = v
	}

	if v := os.Getenv(telegramOperEnv); v != "" {
		c.Telegram.OperatorChatID = v
	}

	if v := os.Getenv(anthropicAPIKeyEnv); v != "" {
		c.Generation.Anthropic.APIKey = v
	}

	if v := os.Getenv(chatGPTAPIKeyEnv); v != "" {
		c.Generation.ChatGPT.APIKey = v
	}

	if v := os.Getenv(tavilyAPIKeyEnv); v != "" {
		c.Research.APIKey = v
	}

	if v := os.Getenv(publishHourEnv); v != "" {
		hour, err := strconv.Atoi(v)
		if err != nil || hour < 0 || hour > 23 {
			log.Printf("config: invalid %s=%q, keeping %d", publishHourEnv, v, c.Scheduler.PublishHour)
		} else {
			c.Scheduler.PublishHour = hour
		}
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(storageDriverEnv); v != "" {
		c.Storage.Driver = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, fallbackTimezone)
		loc = time.UTC
	}
	c.Scheduler.location = loc
}

func (c *Config) clampPublishAttempts() {
	if c.Publish.Attempts < 1 || c.Publish.Attempts > maxPublishAttempts {
		log.Printf("config: publish attempts %d outside 1..%d, using %d", c.Publish.Attempts, maxPublishAttempts, maxPublishAttempts)
		c.Publish.Attempts = maxPublishAttempts
	}
}

// ValidatePipeline reports settings missing for running the content pipeline.
func (c Config) ValidatePipeline() error {
	var missing []string
	switch c.Generation.Provider {
	case ProviderAnthropic:
		if c.Generation.Anthropic.APIKey == "" {
			missing = append(missing, anthropicAPIKeyEnv)
		}
	case ProviderChatGPT:
		if c.Generation.ChatGPT.APIKey == "" {
			missing = append(missing, chatGPTAPIKeyEnv)
		}
	default:
		return fmt.Errorf("config: unknown generation provider %q", c.Generation.Provider)
	}
	if c.Research.APIKey == "" {
		missing = append(missing, tavilyAPIKeyEnv)
	}
	return missingError(missing)
}

// ValidatePublishing reports settings missing for delivering posts.
func (c Config) ValidatePublishing() error {
	var missing []string
	if c.Telegram.BotToken == "" {
		missing = append(missing, telegramTokenEnv)
	}
	if c.Telegram.ChannelID == "" {
		missing = append(missing, telegramChannelEnv)
	}
	if c.Scheduler.PublishHour < 0 || c.Scheduler.PublishHour > 23 {
		return fmt.Errorf("config: publish hour %d is out of range", c.Scheduler.PublishHour)
	}
	if c.Scheduler.PublishMinute < 0 || c.Scheduler.PublishMinute > 59 {
		return fmt.Errorf("config: publish minute %d is out of range", c.Scheduler.PublishMinute)
	}
	return missingError(missing)
}

// ValidateStorage checks the storage driver selection.
func (c Config) ValidateStorage() error {
	switch c.Storage.Driver {
	case DriverFile, DriverSQLite:
		return nil
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
}

func isZeroTopic(t domain.Topic) bool {
	return t.ChannelName == "" && len(t.ContentTypes) == 0 && len(t.SearchQueries) == 0 && len(t.ResearchQueries) == 0
}

func missingError(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text", TraceDir: "data/logs"},
		Storage: StorageConfig{
			Driver:     DriverFile,
			Dir:        "data",
			SQLitePath: "data/postforge.db",
			PlansDir:   "data/plans",
		},
		Scheduler: SchedulerConfig{PublishHour: 19, Timezone: defaultTimezone},
		Generation: GenerationConfig{
			Provider:          ProviderAnthropic,
			RequestsPerMinute: 50,
			Anthropic: AnthropicConfig{
				BaseURL: "https://api.anthropic.com",
				Model:   "claude-sonnet-4-5",
				Timeout: 2 * time.Minute,
			},
			ChatGPT: ChatGPTConfig{
				Endpoint: "https://api.openai.com/v1/chat/completions",
				Model:    "gpt-4o-mini",
				Timeout:  2 * time.Minute,
			},
		},
		Research: ResearchConfig{BaseURL: "https://api.tavily.com", Timeout: 30 * time.Second},
		Telegram: TelegramConfig{BaseURL: "https://api.telegram.org", MessagesPerSecond: 1},
		Pipeline: PipelineConfig{
			MaxSources:    5,
			MinDraftChars: 800,
			Timeouts:      TimeoutsConfig{Research: 45 * time.Second, Generation: 3 * time.Minute},
		},
		Publish: PublishConfig{Attempts: 3, Backoff: []time.Duration{2 * time.Second, 5 * time.Second}},
		Topic: domain.Topic{
			ChannelName:        "Engineering Notes",
			ChannelDescription: "Practical notes on building and running software teams.",
			ContentTypes: []domain.Option{
				{Key: "case", Label: "Case study"},
				{Key: "tool_review", Label: "Tool review"},
				{Key: "opinion", Label: "Opinion"},
			},
			Audiences: []domain.Option{
				{Key: "engineers", Label: "Engineers"},
				{Key: "leads", Label: "Team leads"},
			},
			SearchQueries: map[string]string{
				"case":        "engineering team case study results",
				"tool_review": "developer tool review benchmark",
				"opinion":     "software engineering debate",
			},
			ResearchQueries: []string{
				"software engineering news this week",
				"developer productivity research",
			},
		},
	}
}
