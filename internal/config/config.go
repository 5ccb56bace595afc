// Package config layers settings from defaults, a yaml file, PREDIX_*
// environment variables and command-line flags, later layers winning.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Timeout        string
	Retries        int
	NoCache        bool
	EnableTrades   bool
	AllowedActions []string
	ListenAddr     string
	AgentURL       string
	Wallet         string
	Model          string
}

type Settings struct {
	OutputMode      string
	Timeout         time.Duration
	Retries         int
	CacheEnabled    bool
	CacheTTL        time.Duration
	CachePath       string
	CacheLockPath   string
	SessionPath     string
	SessionLockPath string

	ListenAddr string
	AgentURL   string

	TradesEnabled  bool
	AllowedActions []string
	WalletAddress  string

	MarketAPIBase string

	ModelBaseURL string
	ModelAPIKey  string
	ModelName    string
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Cache   struct {
		Enabled  *bool  `yaml:"enabled"`
		TTL      string `yaml:"ttl"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Sessions struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"sessions"`
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`
	Agent struct {
		URL            string   `yaml:"url"`
		EnableTrades   *bool    `yaml:"enable_trades"`
		AllowedActions []string `yaml:"allowed_actions"`
		Wallet         string   `yaml:"wallet"`
	} `yaml:"agent"`
	Markets struct {
		APIBase string `yaml:"api_base"`
	} `yaml:"markets"`
	Model struct {
		BaseURL   string `yaml:"base_url"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
		Name      string `yaml:"name"`
	} `yaml:"model"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.CacheTTL <= 0 {
		settings.CacheTTL = time.Minute
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	cacheDir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:      "json",
		Timeout:         10 * time.Second,
		Retries:         2,
		CacheEnabled:    true,
		CacheTTL:        time.Minute,
		CachePath:       cachePath,
		CacheLockPath:   lockPath,
		SessionPath:     filepath.Join(cacheDir, "sessions.db"),
		SessionLockPath: filepath.Join(cacheDir, "sessions.lock"),
		ListenAddr:      "127.0.0.1:8787",
		AgentURL:        "http://127.0.0.1:8787",
		ModelName:       "sonar-pro",
		ModelBaseURL:    "https://api.perplexity.ai",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "predix", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "predix")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.TTL != "" {
		d, err := time.ParseDuration(cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("config cache.ttl: %w", err)
		}
		settings.CacheTTL = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Sessions.Path != "" {
		settings.SessionPath = cfg.Sessions.Path
	}
	if cfg.Sessions.LockPath != "" {
		settings.SessionLockPath = cfg.Sessions.LockPath
	}
	if cfg.Server.Listen != "" {
		settings.ListenAddr = cfg.Server.Listen
	}
	if cfg.Agent.URL != "" {
		settings.AgentURL = cfg.Agent.URL
	}
	if cfg.Agent.EnableTrades != nil {
		settings.TradesEnabled = *cfg.Agent.EnableTrades
	}
	if len(cfg.Agent.AllowedActions) > 0 {
		settings.AllowedActions = cfg.Agent.AllowedActions
	}
	if cfg.Agent.Wallet != "" {
		settings.WalletAddress = cfg.Agent.Wallet
	}
	if cfg.Markets.APIBase != "" {
		settings.MarketAPIBase = cfg.Markets.APIBase
	}
	if cfg.Model.BaseURL != "" {
		settings.ModelBaseURL = cfg.Model.BaseURL
	}
	if cfg.Model.APIKey != "" {
		settings.ModelAPIKey = cfg.Model.APIKey
	}
	if cfg.Model.APIKeyEnv != "" {
		settings.ModelAPIKey = os.Getenv(cfg.Model.APIKeyEnv)
	}
	if cfg.Model.Name != "" {
		settings.ModelName = cfg.Model.Name
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("PREDIX_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("PREDIX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("PREDIX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("PREDIX_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("PREDIX_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("PREDIX_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("PREDIX_SESSIONS_PATH"); v != "" {
		settings.SessionPath = v
	}
	if v := os.Getenv("PREDIX_SESSIONS_LOCK_PATH"); v != "" {
		settings.SessionLockPath = v
	}
	if v := os.Getenv("PREDIX_LISTEN"); v != "" {
		settings.ListenAddr = v
	}
	if v := os.Getenv("PREDIX_AGENT_URL"); v != "" {
		settings.AgentURL = v
	}
	if v := os.Getenv("PREDIX_ENABLE_TRADES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.TradesEnabled = b
		}
	}
	if v := os.Getenv("PREDIX_ALLOWED_ACTIONS"); v != "" {
		settings.AllowedActions = splitList(v)
	}
	if v := os.Getenv("PREDIX_WALLET"); v != "" {
		settings.WalletAddress = v
	}
	if v := os.Getenv("PREDIX_MARKET_API_BASE"); v != "" {
		settings.MarketAPIBase = v
	}
	if v := os.Getenv("PREDIX_MODEL_BASE_URL"); v != "" {
		settings.ModelBaseURL = v
	}
	if v := os.Getenv("PREDIX_MODEL_API_KEY"); v != "" {
		settings.ModelAPIKey = v
	}
	if v := os.Getenv("PREDIX_MODEL"); v != "" {
		settings.ModelName = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.EnableTrades {
		settings.TradesEnabled = true
	}
	if len(flags.AllowedActions) > 0 {
		settings.AllowedActions = flags.AllowedActions
	}
	if flags.ListenAddr != "" {
		settings.ListenAddr = flags.ListenAddr
	}
	if flags.AgentURL != "" {
		settings.AgentURL = flags.AgentURL
	}
	if flags.Wallet != "" {
		settings.WalletAddress = flags.Wallet
	}
	if flags.Model != "" {
		settings.ModelName = flags.Model
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}
