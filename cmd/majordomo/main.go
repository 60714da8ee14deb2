// Command majordomo runs the home automation orchestrator.
//
// Usage:
//
//	majordomo serve --config majordomo.yaml
//	majordomo serve --config majordomo/prod --config-source consul --watch
//	majordomo validate majordomo.yaml
//	majordomo card --config majordomo.yaml
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/majordomohq/majordomo/pkg/config"
	"github.com/majordomohq/majordomo/pkg/logger"
)

// CLI is the command tree.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the orchestrator."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration."`
	Config   ConfigCmd   `cmd:"" help:"Print the effective configuration."`
	Card     CardCmd     `cmd:"" help:"Print the orchestrator's agent card."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	ConfigPath      string   `short:"c" name:"config" help:"Configuration path: a file, or the key under a remote source." env:"MAJORDOMO_CONFIG"`
	ConfigSource    string   `help:"Configuration source (file, consul, etcd, zookeeper)." default:"file" env:"MAJORDOMO_CONFIG_SOURCE"`
	ConfigEndpoints []string `help:"Endpoints of a remote configuration source." env:"MAJORDOMO_CONFIG_ENDPOINTS"`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" env:"LOG_LEVEL"`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple" env:"LOG_FORMAT"`
	LogFile   string `help:"Log file path (empty logs to stderr)." env:"LOG_FILE"`
}

// loadConfig resolves the configuration named by the global flags.
// With no path the built-in defaults apply, which is enough for a
// memory-backed orchestrator with just the fallback assistant.
func loadConfig(cli *CLI, watch bool) (*config.Config, *config.Loader, error) {
	if cli.ConfigPath == "" {
		cfg := &config.Config{}
		cfg.SetDefaults()
		return cfg, nil, nil
	}

	srcType, err := config.ParseConfigType(cli.ConfigSource)
	if err != nil {
		return nil, nil, err
	}

	return config.LoadConfigWithLoader(config.LoaderOptions{
		Type:      srcType,
		Path:      cli.ConfigPath,
		Endpoints: cli.ConfigEndpoints,
		Watch:     watch,
	})
}

func initLogger(cli *CLI) (func(), error) {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	var cleanup func()
	if cli.LogFile != "" {
		file, done, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		output, cleanup = file, done
	}

	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env files: %v\n", err)
		os.Exit(1)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("majordomo"),
		kong.Description("Natural-language orchestrator for home automation agents."),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	ctx.FatalIfErrorf(ctx.Run(&cli))
}
