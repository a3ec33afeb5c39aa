package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/btt-go/confstack"
	"github.com/btt-go/confstack/internal/bootstrap"
	"github.com/btt-go/confstack/internal/logging"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "confstack: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	app := kingpin.New("confstack", "Layered configuration store backed by Redis")
	configFile := app.Flag("config", "Path to YAML bootstrap configuration").String()
	redisAddr := app.Flag("redis-addr", "Redis address").String()
	prefix := app.Flag("prefix", "Redis key prefix").String()
	kind := app.Flag("kind", "Entity kind holding the properties").String()
	var strictSet bool
	strict := app.Flag("strict", "Fail when a key is missing from every source").IsSetByUser(&strictSet).Bool()
	envPrefix := app.Flag("env-prefix", "Environment variable prefix exposed as properties").String()
	defaults := app.Flag("defaults", "YAML or TOML file with default properties").String()
	props := app.Flag("define", "Runtime property (key=value)").Short('D').StringMap()
	logLevel := app.Flag("log-level", "Log level").String()

	getCmd := app.Command("get", "Print the value of a key")
	getKey := getCmd.Arg("key", "Property key").Required().String()

	setCmd := app.Command("set", "Persist a property")
	setKey := setCmd.Arg("key", "Property key").Required().String()
	setValue := setCmd.Arg("value", "Property value").Required().String()
	setType := setCmd.Flag("type", "Value type").Default("string").Enum("string", "int", "float", "bool")

	existsCmd := app.Command("exists", "Report whether any source holds a key")
	existsKey := existsCmd.Arg("key", "Property key").Required().String()

	listCmd := app.Command("list", "List every key visible through the configuration")
	emptyCmd := app.Command("empty", "Report whether every source is empty")

	command, err := app.Parse(args)
	if err != nil {
		return err
	}

	// 1. 启动配置
	overrides := &bootstrap.CLIOverrides{
		ConfigFile: *configFile,
		Properties: *props,
	}
	if *redisAddr != "" {
		overrides.RedisAddr = redisAddr
	}
	if *prefix != "" {
		overrides.Prefix = prefix
	}
	if *kind != "" {
		overrides.EntityKind = kind
	}
	if strictSet {
		overrides.ThrowOnMissing = strict
	}
	if *envPrefix != "" {
		overrides.AppEnvPrefix = envPrefix
	}
	if *defaults != "" {
		overrides.DefaultsFile = defaults
	}
	if *logLevel != "" {
		overrides.LogLevel = logLevel
	}

	cfg, err := bootstrap.Load(overrides)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	// 2. 构造 Configuration
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	rdb := redis.NewClient(cfg.RedisOptions())
	defer rdb.Close()
	opts.Redis = rdb
	opts.Logger = logger

	conf, err := confstack.New(ctx, opts)
	if err != nil {
		return err
	}

	// 3. 执行命令
	switch command {
	case getCmd.FullCommand():
		v, found, err := conf.Get(ctx, *getKey)
		if err != nil {
			return err
		}
		if found {
			fmt.Fprintln(stdout, v)
		}
	case setCmd.FullCommand():
		v, err := parseValue(*setValue, *setType)
		if err != nil {
			return err
		}
		if err := conf.AddProperty(ctx, *setKey, v); err != nil {
			return err
		}
		logger.Info("property stored", zap.String("key", *setKey), zap.String("type", *setType))
	case existsCmd.FullCommand():
		ok, err := conf.ContainsKey(ctx, *existsKey)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, ok)
	case listCmd.FullCommand():
		for k, err := range conf.Keys(ctx) {
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, k)
		}
	case emptyCmd.FullCommand():
		empty, err := conf.IsEmpty(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, empty)
	}
	return nil
}

// parseValue 按 --type 把命令行字符串转换为标量。
func parseValue(raw, typ string) (confstack.Value, error) {
	var (
		v   confstack.Value
		err error
	)
	switch typ {
	case "", "string":
		return raw, nil
	case "int":
		v, err = cast.ToInt64E(raw)
	case "float":
		v, err = cast.ToFloat64E(raw)
	case "bool":
		v, err = cast.ToBoolE(raw)
	default:
		return nil, fmt.Errorf("unknown type %q", typ)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a valid %s: %w", confstack.ErrInvalidValue, raw, typ, err)
	}
	return v, nil
}
