package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/strixsec/strix/internal/config"
	"github.com/strixsec/strix/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "strix",
	Short: "Automated web vulnerability assessment",
	Long: `Strix runs automated web-vulnerability assessments: it discovers a
target's reachable endpoints, plans which attack categories to apply,
runs vulnerability testers against the discovered surface, scores the
findings, and writes a Markdown report.

Discovery uses a remote scanning proxy when one is configured and
reachable, and falls back to the built-in same-origin crawler otherwise.

USAGE:
  strix scan https://target.example     # One-shot scan from the terminal
  strix serve                           # Start the scan API server`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default is .strix.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().String("proxy-address", "", "remote scanning proxy address")
	rootCmd.PersistentFlags().String("proxy-api-key", "", "remote scanning proxy API key")
	rootCmd.PersistentFlags().Int("max-pages", 20, "crawler page limit")
	rootCmd.PersistentFlags().String("reports-dir", "reports", "directory for generated reports")
	rootCmd.PersistentFlags().Float64("rate-limit", 10, "outbound requests per second")
	rootCmd.PersistentFlags().Int("workers", 3, "concurrent scan workers")

	mustBind := func(key, flag string) {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
	mustBind("logger.level", "log-level")
	mustBind("logger.format", "log-format")
	mustBind("proxy.address", "proxy-address")
	mustBind("proxy.api_key", "proxy-api-key")
	mustBind("crawler.max_pages", "max-pages")
	mustBind("reports.output_directory", "reports-dir")
	mustBind("rate_limit.requests_per_second", "rate-limit")
	mustBind("worker.count", "workers")
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".strix")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("STRIX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	cfg = config.Default()
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	var err error
	log, err = logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	return nil
}

func setDefaults() {
	defaults := config.Default()
	viper.SetDefault("logger.level", defaults.Logger.Level)
	viper.SetDefault("logger.format", defaults.Logger.Format)
	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("server.enable_cors", defaults.Server.EnableCORS)
	viper.SetDefault("proxy.probe_timeout", defaults.Proxy.ProbeTimeout)
	viper.SetDefault("proxy.spider_poll", defaults.Proxy.SpiderPoll)
	viper.SetDefault("crawler.max_pages", defaults.Crawler.MaxPages)
	viper.SetDefault("crawler.request_timeout", defaults.Crawler.RequestTimeout)
	viper.SetDefault("crawler.user_agent", defaults.Crawler.UserAgent)
	viper.SetDefault("testers.request_timeout", defaults.Testers.RequestTimeout)
	viper.SetDefault("testers.browser_timeout", defaults.Testers.BrowserTimeout)
	viper.SetDefault("planner.model", defaults.Planner.Model)
	viper.SetDefault("planner.timeout", defaults.Planner.Timeout)
	viper.SetDefault("planner.max_tokens", defaults.Planner.MaxTokens)
	viper.SetDefault("planner.temperature", defaults.Planner.Temperature)
	viper.SetDefault("reports.output_directory", defaults.Reports.OutputDirectory)
	viper.SetDefault("rate_limit.requests_per_second", defaults.RateLimit.RequestsPerSecond)
	viper.SetDefault("rate_limit.burst_size", defaults.RateLimit.BurstSize)
	viper.SetDefault("worker.count", defaults.Worker.Count)
}
