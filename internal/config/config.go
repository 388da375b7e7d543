package config

import (
	"time"
)

type Config struct {
	Logger    LoggerConfig  `mapstructure:"logger"`
	Server    ServerConfig  `mapstructure:"server"`
	Proxy     ProxyConfig   `mapstructure:"proxy"`
	Crawler   CrawlerConfig `mapstructure:"crawler"`
	Testers   TesterConfig  `mapstructure:"testers"`
	Planner   PlannerConfig `mapstructure:"planner"`
	Reports   ReportConfig  `mapstructure:"reports"`
	RateLimit RateLimit     `mapstructure:"rate_limit"`
	Worker    WorkerConfig  `mapstructure:"worker"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type ServerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	EnableCORS bool   `mapstructure:"enable_cors"`
}

// ProxyConfig describes the remote scanning proxy. When Address or APIKey
// is empty the proxy is treated as unconfigured and discovery falls back
// to the built-in crawler.
type ProxyConfig struct {
	Address      string        `mapstructure:"address"`
	APIKey       string        `mapstructure:"api_key"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	SpiderPoll   time.Duration `mapstructure:"spider_poll"`
}

// Configured reports whether a remote proxy address and credential are
// both present.
func (p ProxyConfig) Configured() bool {
	return p.Address != "" && p.APIKey != ""
}

type CrawlerConfig struct {
	MaxPages       int           `mapstructure:"max_pages"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

type TesterConfig struct {
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	Headers        map[string]string `mapstructure:"headers"`
	// ProxyURL routes tester traffic through the intercepting proxy the
	// run committed to during discovery. It is set per run by the
	// orchestrator, never from configuration; crawler runs leave it
	// empty and testers go direct.
	ProxyURL       string            `mapstructure:"-"`
	EnableBrowser  bool              `mapstructure:"enable_browser"`
	BrowserTimeout time.Duration     `mapstructure:"browser_timeout"`
}

// PlannerConfig controls the attack planner and severity scorer. With an
// API key set, planning and scoring go through the LLM; without one the
// deterministic heuristics are used.
type PlannerConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	RulesFile   string        `mapstructure:"rules_file"`
}

type ReportConfig struct {
	OutputDirectory string `mapstructure:"output_directory"`
}

type RateLimit struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

type WorkerConfig struct {
	Count int `mapstructure:"count"`
}

// Default returns the configuration used when no file or environment
// overrides are present. Flag and env binding happens in cmd/root.go via
// viper.SetDefault; these values are kept in sync with it for direct
// library use and tests.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stdout"},
		},
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       8080,
			EnableCORS: true,
		},
		Proxy: ProxyConfig{
			ProbeTimeout: 2 * time.Second,
			SpiderPoll:   2 * time.Second,
		},
		Crawler: CrawlerConfig{
			MaxPages:       20,
			RequestTimeout: 5 * time.Second,
			UserAgent:      "strix-crawler/1.0",
		},
		Testers: TesterConfig{
			RequestTimeout: 10 * time.Second,
			Headers:        map[string]string{},
			EnableBrowser:  false,
			BrowserTimeout: 15 * time.Second,
		},
		Planner: PlannerConfig{
			Model:       "gpt-4o-mini",
			Timeout:     30 * time.Second,
			MaxTokens:   1024,
			Temperature: 0.2,
		},
		Reports: ReportConfig{
			OutputDirectory: "reports",
		},
		RateLimit: RateLimit{
			RequestsPerSecond: 10,
			BurstSize:         5,
		},
		Worker: WorkerConfig{
			Count: 3,
		},
	}
}
