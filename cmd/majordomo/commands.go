package main

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	majordomo "github.com/majordomohq/majordomo"
	"github.com/majordomohq/majordomo/pkg/agent"
	"github.com/majordomohq/majordomo/pkg/config"
	"github.com/majordomohq/majordomo/pkg/transport"
)

// ValidateCmd checks a configuration and reports the first problem it
// finds. Loading already applies defaults and validates, so a clean
// load is a clean config.
type ValidateCmd struct {
	Config string `arg:"" name:"config" help:"Configuration path." placeholder:"PATH"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	srcType, err := config.ParseConfigType(cli.ConfigSource)
	if err != nil {
		return err
	}

	cfg, loader, err := config.LoadConfigWithLoader(config.LoaderOptions{
		Type:      srcType,
		Path:      c.Config,
		Endpoints: cli.ConfigEndpoints,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", c.Config, err)
	}
	loader.Stop()

	fmt.Printf("%s: configuration valid (%d agents)\n", c.Config, len(cfg.Agents))
	return nil
}

// ConfigCmd prints the effective configuration: defaults applied and
// environment references resolved.
type ConfigCmd struct{}

func (c *ConfigCmd) Run(cli *CLI) error {
	cfg, loader, err := loadConfig(cli, false)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Stop()
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

// CardCmd prints the agent card the orchestrator would serve, without
// starting it. Remote cards are not fetched; the configured
// descriptions stand in.
type CardCmd struct{}

func (c *CardCmd) Run(cli *CLI) error {
	cfg, loader, err := loadConfig(cli, false)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Stop()
	}

	reg := agent.NewRegistry()
	for name, acfg := range cfg.Agents {
		if err := reg.Register(name, agent.FromConfig(name, acfg)); err != nil {
			return err
		}
	}

	out, err := json.MarshalIndent(transport.Card(cfg, reg.List()), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// VersionCmd prints the build identity.
type VersionCmd struct {
	JSON bool `help:"Print as JSON."`
}

func (c *VersionCmd) Run() error {
	info := majordomo.GetVersion()
	if c.JSON {
		out, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(info.String())
	return nil
}
