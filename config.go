package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL     = "http://localhost:8085/api/books"
	DefaultPageSize    = 5
	DefaultLogFolder   = "./logs"
	DefaultLogMaxSize  = 10
	DefaultHistoryFile = ".books_history"
	DefaultPrompt      = "books> "

	JournalBolt  = "bolt"
	JournalRedis = "redis"
	JournalNone  = "none"
)

// Config defines the structure of the configuration file.
type Config struct {
	GitCommit      string        `yaml:"git_commit" envconfig:"BOOKS_GIT_COMMIT"`
	GitTag         string        `yaml:"git_tag" envconfig:"BOOKS_GIT_TAG"`
	BuildTime      string        `yaml:"build_time" envconfig:"BOOKS_BUILD_TIME"`
	IsProduction   bool          `yaml:"is_production" envconfig:"BOOKS_IS_PRODUCTION"`
	LogLevel       zapcore.Level `yaml:"log_level" envconfig:"BOOKS_LOG_LEVEL"`
	LogFolder      string        `yaml:"log_folder" envconfig:"BOOKS_LOG_FOLDER"`
	LogMaxSize     int           `yaml:"log_max_size" envconfig:"BOOKS_LOG_MAX_SIZE"`
	ProfilerEnable bool          `yaml:"profiler_enable" envconfig:"BOOKS_PROFILER_ENABLE"`
	Remote         RemoteConfig  `yaml:"remote"`
	Pager          PagerConfig   `yaml:"pager"`
	Shell          ShellConfig   `yaml:"shell"`
	Journal        JournalConfig `yaml:"journal"`
	Ops            OpsConfig     `yaml:"ops"`
}

// RemoteConfig holds settings of the remote books api and the http transport.
type RemoteConfig struct {
	BaseURL   string        `yaml:"base_url" envconfig:"BOOKS_REMOTE_BASE_URL"`
	Timeout   time.Duration `yaml:"timeout" envconfig:"BOOKS_REMOTE_TIMEOUT"` // 0 keeps transport defaults
	ProxyAddr string        `yaml:"proxy_addr" envconfig:"BOOKS_REMOTE_PROXY_ADDR"`
	RateLimit float64       `yaml:"rate_limit" envconfig:"BOOKS_REMOTE_RATE_LIMIT"` // requests per second, 0 disables
	RateBurst int           `yaml:"rate_burst" envconfig:"BOOKS_REMOTE_RATE_BURST"`
	UserAgent string        `yaml:"user_agent" envconfig:"BOOKS_REMOTE_USER_AGENT"`
}

type PagerConfig struct {
	PageSize    int  `yaml:"page_size" envconfig:"BOOKS_PAGER_PAGE_SIZE"`
	ClampOnLoad bool `yaml:"clamp_on_load" envconfig:"BOOKS_PAGER_CLAMP_ON_LOAD"`
}

type ShellConfig struct {
	Prompt      string `yaml:"prompt" envconfig:"BOOKS_SHELL_PROMPT"`
	HistoryFile string `yaml:"history_file" envconfig:"BOOKS_SHELL_HISTORY_FILE"`
}

type JournalConfig struct {
	Backend string       `yaml:"backend" envconfig:"BOOKS_JOURNAL_BACKEND"`
	BoltDB  BoltDBConfig `yaml:"boltdb"`
	Redis   RedisConfig  `yaml:"redis"`
}

type BoltDBConfig struct {
	FilePath   string        `yaml:"filepath" envconfig:"BOOKS_BOLTDB_FILE_PATH"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"BOOKS_BOLTDB_TIMEOUT"`
	BucketName string        `yaml:"bucket_name" envconfig:"BOOKS_BOLTDB_BUCKET_NAME"`
}

type RedisConfig struct {
	Host          string        `yaml:"host" envconfig:"BOOKS_REDIS_HOST"`
	Port          string        `yaml:"port" envconfig:"BOOKS_REDIS_PORT"`
	DialTimeout   time.Duration `yaml:"dial_timeout" envconfig:"BOOKS_REDIS_DIAL_TIMEOUT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"BOOKS_REDIS_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"BOOKS_REDIS_WRITE_TIMEOUT"`
	PoolSize      int           `yaml:"pool_size" envconfig:"BOOKS_REDIS_POOL_SIZE"`
	PoolTimeout   time.Duration `yaml:"pool_timeout" envconfig:"BOOKS_REDIS_POOL_TIMEOUT"`
	Username      string        `yaml:"username" envconfig:"BOOKS_REDIS_USERNAME"`
	Password      string        `yaml:"password" envconfig:"BOOKS_REDIS_PASSWORD" json:"-"`
	DatabaseIndex int           `yaml:"db_index" envconfig:"BOOKS_REDIS_DATABASE_INDEX"`
	ListKey       string        `yaml:"list_key" envconfig:"BOOKS_REDIS_LIST_KEY"`
}

// OpsConfig controls the local operations server. It is disabled by default.
type OpsConfig struct {
	Enable          bool          `yaml:"enable" envconfig:"BOOKS_OPS_ENABLE"`
	Host            string        `yaml:"host" envconfig:"BOOKS_OPS_HOST"`
	Port            string        `yaml:"port" envconfig:"BOOKS_OPS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"BOOKS_OPS_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"BOOKS_OPS_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"BOOKS_OPS_SHUTDOWN_TIMEOUT"`
}

// LoadConfigFile provides an instance of config structure for the all application.
func LoadConfigFile(configFile string) (*Config, error) {
	file, err := os.Open(configFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	cfg := &Config{}
	yd := yaml.NewDecoder(file)
	err = yd.Decode(cfg)

	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigEnvs reads the environments variables and overrides matching config fields.
func LoadConfigEnvs(prefix string, config *Config) error {
	return envconfig.Process(prefix, config)
}

// InitConfig setup defaults values for non provided parameters
// and configures build tags values to be used if provided.
func InitConfig(config *Config, gitCommit, gitTag, buildTime string) error {
	if len(gitCommit) != 0 {
		config.GitCommit = gitCommit
	}

	if len(gitTag) != 0 {
		config.GitTag = gitTag
	}

	if len(buildTime) != 0 {
		config.BuildTime = buildTime
	}

	if len(config.LogFolder) == 0 {
		config.LogFolder = DefaultLogFolder
	}

	if config.LogMaxSize <= 0 {
		config.LogMaxSize = DefaultLogMaxSize
	}

	if len(config.Remote.BaseURL) == 0 {
		config.Remote.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(config.Remote.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("make sure to set a valid remote base url in configuration file: %q", config.Remote.BaseURL)
	}

	if config.Remote.RateLimit < 0 {
		return errors.New("remote rate limit cannot be negative")
	}
	if config.Remote.RateLimit > 0 && config.Remote.RateBurst <= 0 {
		config.Remote.RateBurst = 1
	}

	if config.Pager.PageSize < 0 {
		return errors.New("page size must be a positive number")
	}
	if config.Pager.PageSize == 0 {
		config.Pager.PageSize = DefaultPageSize
	}

	if len(config.Shell.Prompt) == 0 {
		config.Shell.Prompt = DefaultPrompt
	}
	if len(config.Shell.HistoryFile) == 0 {
		config.Shell.HistoryFile = DefaultHistoryFile
	}

	switch config.Journal.Backend {
	case "":
		config.Journal.Backend = JournalBolt
	case JournalBolt, JournalRedis, JournalNone:
	default:
		return fmt.Errorf("unknown journal backend %q", config.Journal.Backend)
	}

	if config.Journal.Backend == JournalBolt {
		if len(config.Journal.BoltDB.FilePath) == 0 {
			config.Journal.BoltDB.FilePath = "./data/journal.db"
		}
		if len(config.Journal.BoltDB.BucketName) == 0 {
			config.Journal.BoltDB.BucketName = "journal"
		}
		if config.Journal.BoltDB.Timeout == 0 {
			config.Journal.BoltDB.Timeout = time.Second
		}
	}

	if config.Journal.Backend == JournalRedis {
		if len(config.Journal.Redis.Host) == 0 || len(config.Journal.Redis.Port) == 0 {
			return errors.New("make sure to set valid redis address and port in configuration file")
		}
		if len(config.Journal.Redis.ListKey) == 0 {
			config.Journal.Redis.ListKey = "books:journal"
		}
	}

	if config.Ops.Enable {
		if len(config.Ops.Host) == 0 || len(config.Ops.Port) == 0 {
			return errors.New("make sure to set valid ops server address and port in configuration file")
		}
		if config.Ops.ShutdownTimeout == 0 {
			config.Ops.ShutdownTimeout = 5 * time.Second
		}
	}

	return nil
}

// LoadAndInitConfigs loads in order the configs from various predefined sources
// then build the App configuration data. The config.env file is optional.
func LoadAndInitConfigs(configFile, envFile, gitCommit, gitTag, buildTime string) (*Config, error) {
	// Setup the yaml configuration from file.
	config, err := LoadConfigFile(configFile)
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from file: %s", err)
	}

	// Set the environment configuration.
	err = godotenv.Load(envFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, fmt.Errorf("failed to set environment configurations: %s", err)
	}

	// Use environment variables with prefix `BOOKS`.
	err = LoadConfigEnvs("BOOKS", config)
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from environment: %s", err)
	}

	err = InitConfig(config, gitCommit, gitTag, buildTime)
	if err != nil {
		return config, fmt.Errorf("failed to initialize configurations: %s", err)
	}
	return config, nil
}
