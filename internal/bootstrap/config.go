package bootstrap

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/btt-go/confstack"
)

const (
	defaultRedisAddr  = "localhost:6379"
	defaultTxnTimeout = 5 * time.Second
	defaultLogLevel   = "info"

	// EnvPrefix 启动配置使用的环境变量前缀。
	EnvPrefix = "CONFSTACK_"
)

// Config 启动配置。
type Config struct {
	RedisAddr      string
	RedisDB        int
	RedisPassword  string
	Prefix         string
	EntityKind     string
	CacheNamespace string
	ThrowOnMissing bool
	TxnTimeout     time.Duration
	// AppEnvPrefix 传给 SystemSource 的前缀，与 EnvPrefix 无关。
	AppEnvPrefix string
	DefaultsFile string
	Properties   map[string]string
	LogLevel     string
}

type yamlConfig struct {
	Redis          yamlRedis         `yaml:"redis"`
	Prefix         string            `yaml:"prefix"`
	EntityKind     string            `yaml:"entity_kind"`
	CacheNamespace string            `yaml:"cache_namespace"`
	ThrowOnMissing *bool             `yaml:"throw_on_missing"`
	TxnTimeout     string            `yaml:"txn_timeout"`
	EnvPrefix      string            `yaml:"env_prefix"`
	DefaultsFile   string            `yaml:"defaults_file"`
	Properties     map[string]string `yaml:"properties"`
	LogLevel       string            `yaml:"log_level"`
}

type yamlRedis struct {
	Addr     string `yaml:"addr"`
	DB       *int   `yaml:"db"`
	Password string `yaml:"password"`
}

// CLIOverrides 命令行覆盖项，nil 表示未指定。
type CLIOverrides struct {
	ConfigFile     string
	RedisAddr      *string
	RedisDB        *int
	Prefix         *string
	EntityKind     *string
	ThrowOnMissing *bool
	AppEnvPrefix   *string
	DefaultsFile   *string
	Properties     map[string]string
	LogLevel       *string
}

// Load 按优先级合并各来源并校验。
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// 1. YAML 文件
	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, err
		}
	}

	// 2. 环境变量
	if err := applyEnvConfig(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}

	// 3. 命令行
	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		RedisAddr:      defaultRedisAddr,
		Prefix:         confstack.DefaultPrefix,
		EntityKind:     confstack.DefaultEntityKind,
		CacheNamespace: confstack.DefaultCacheNamespace,
		TxnTimeout:     defaultTxnTimeout,
		LogLevel:       defaultLogLevel,
		Properties:     map[string]string{},
	}
}

func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return &yamlCfg, nil
}

func applyYAMLConfig(cfg *Config, y *yamlConfig) error {
	setString(&cfg.RedisAddr, y.Redis.Addr)
	setString(&cfg.RedisPassword, y.Redis.Password)
	if y.Redis.DB != nil {
		cfg.RedisDB = *y.Redis.DB
	}
	setString(&cfg.Prefix, y.Prefix)
	setString(&cfg.EntityKind, y.EntityKind)
	setString(&cfg.CacheNamespace, y.CacheNamespace)
	if y.ThrowOnMissing != nil {
		cfg.ThrowOnMissing = *y.ThrowOnMissing
	}
	if y.TxnTimeout != "" {
		d, err := cast.ToDurationE(y.TxnTimeout)
		if err != nil {
			return fmt.Errorf("parse txn_timeout: %w", err)
		}
		cfg.TxnTimeout = d
	}
	setString(&cfg.AppEnvPrefix, y.EnvPrefix)
	setString(&cfg.DefaultsFile, y.DefaultsFile)
	setString(&cfg.LogLevel, y.LogLevel)
	for k, v := range y.Properties {
		cfg.Properties[k] = v
	}
	return nil
}

// applyEnvConfig 读取 CONFSTACK_* 环境变量，格式错误的值全部收集后一起返回。
func applyEnvConfig(cfg *Config, getenv func(string) string) error {
	env := func(name string) string {
		return strings.TrimSpace(getenv(EnvPrefix + name))
	}

	var errs *multierror.Error
	setString(&cfg.RedisAddr, env("REDIS_ADDR"))
	setString(&cfg.RedisPassword, env("REDIS_PASSWORD"))
	if raw := env("REDIS_DB"); raw != "" {
		db, err := cast.ToIntE(raw)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%sREDIS_DB: %w", EnvPrefix, err))
		} else {
			cfg.RedisDB = db
		}
	}
	setString(&cfg.Prefix, env("PREFIX"))
	setString(&cfg.EntityKind, env("ENTITY_KIND"))
	setString(&cfg.CacheNamespace, env("CACHE_NAMESPACE"))
	if raw := env("THROW_ON_MISSING"); raw != "" {
		b, err := cast.ToBoolE(raw)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%sTHROW_ON_MISSING: %w", EnvPrefix, err))
		} else {
			cfg.ThrowOnMissing = b
		}
	}
	if raw := env("TXN_TIMEOUT"); raw != "" {
		d, err := cast.ToDurationE(raw)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%sTXN_TIMEOUT: %w", EnvPrefix, err))
		} else {
			cfg.TxnTimeout = d
		}
	}
	setString(&cfg.AppEnvPrefix, env("ENV_PREFIX"))
	setString(&cfg.DefaultsFile, env("DEFAULTS_FILE"))
	setString(&cfg.LogLevel, env("LOG_LEVEL"))
	return errs.ErrorOrNil()
}

func applyCLIOverrides(cfg *Config, o *CLIOverrides) {
	setPtr(&cfg.RedisAddr, o.RedisAddr)
	if o.RedisDB != nil {
		cfg.RedisDB = *o.RedisDB
	}
	setPtr(&cfg.Prefix, o.Prefix)
	setPtr(&cfg.EntityKind, o.EntityKind)
	if o.ThrowOnMissing != nil {
		cfg.ThrowOnMissing = *o.ThrowOnMissing
	}
	if o.AppEnvPrefix != nil {
		cfg.AppEnvPrefix = *o.AppEnvPrefix
	}
	setPtr(&cfg.DefaultsFile, o.DefaultsFile)
	setPtr(&cfg.LogLevel, o.LogLevel)
	for k, v := range o.Properties {
		cfg.Properties[k] = v
	}
}

// validateConfig 返回所有校验错误，而不是第一个。
func validateConfig(cfg Config) error {
	var errs *multierror.Error
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		errs = multierror.Append(errs, fmt.Errorf("redis address cannot be empty"))
	}
	if cfg.RedisDB < 0 {
		errs = multierror.Append(errs, fmt.Errorf("redis db must be >= 0, got %d", cfg.RedisDB))
	}
	if strings.TrimSpace(cfg.EntityKind) == "" {
		errs = multierror.Append(errs, fmt.Errorf("entity kind cannot be empty"))
	}
	if cfg.TxnTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("txn timeout must be >= 0, got %s", cfg.TxnTimeout))
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("log level: %w", err))
	}
	return errs.ErrorOrNil()
}

// RedisOptions 返回 go-redis 客户端参数。
func (c Config) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     c.RedisAddr,
		DB:       c.RedisDB,
		Password: c.RedisPassword,
	}
}

// Options 返回 confstack.Options，设置了 DefaultsFile 时加载为最低优先级的源。
// Redis 与 Logger 由调用方填写。
func (c Config) Options() (confstack.Options, error) {
	opts := confstack.Options{
		Prefix:         c.Prefix,
		EntityKind:     c.EntityKind,
		CacheNamespace: c.CacheNamespace,
		ThrowOnMissing: c.ThrowOnMissing,
		TxnTimeout:     c.TxnTimeout,
		EnvPrefix:      c.AppEnvPrefix,
		Properties:     c.Properties,
	}
	if c.DefaultsFile != "" {
		fs, err := confstack.LoadFileSource(c.DefaultsFile)
		if err != nil {
			return confstack.Options{}, fmt.Errorf("load defaults: %w", err)
		}
		opts.Defaults = []confstack.Source{fs}
	}
	return opts, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPtr(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}
