package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/itsneelabh/ordregistry/core"
)

// cli holds state shared by every subcommand of one root command.
type cli struct {
	v       *viper.Viper
	cfgFile string
	stderr  io.Writer
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "ordregistry",
		Short:         "Capability registry and dependency discovery for ORD resources",
		Long:          `ordregistry keeps a live catalog of registered agents, functions and data products, indexes their capabilities, analyzes their dependency graph and validates them against the ORD compliance rules.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.stderr = cmd.ErrOrStderr()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.cfgFile, "config", "c", "", "config file (.json, .yaml or .yml)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: json or text")
	flags.String("store", "", "resource store: memory, redis or postgres")
	flags.String("redis-url", "", "redis connection URL")
	flags.String("database-url", "", "postgres connection URL")
	flags.String("seed", "", "JSON or YAML file of resources loaded into the memory store")
	flags.Int("port", 0, "HTTP port")

	for key, flag := range map[string]string{
		"logging.level":  "log-level",
		"logging.format": "log-format",
		"store.provider": "store",
		"store.redis":    "redis-url",
		"store.database": "database-url",
		"store.seed":     "seed",
		"http.port":      "port",
	} {
		_ = c.v.BindPFlag(key, flags.Lookup(flag))
	}
	c.v.SetEnvPrefix("ORDREG")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	root.AddCommand(
		newServeCmd(c),
		newDiscoverCmd(c),
		newValidateCmd(c),
		newStatsCmd(c),
		newVersionCmd(),
	)
	return root
}

// loadConfig layers defaults, environment, the config file and flags, in
// that order, and validates the result.
func (c *cli) loadConfig() (*core.Config, error) {
	var opts []core.Option
	if c.cfgFile != "" {
		opts = append(opts, core.WithConfigFile(c.cfgFile))
	}
	if v := c.v.GetString("logging.level"); v != "" {
		opts = append(opts, core.WithLogLevel(v))
	}
	if v := c.v.GetString("logging.format"); v != "" {
		opts = append(opts, core.WithLogFormat(v))
	}
	if v := c.v.GetString("store.provider"); v != "" {
		opts = append(opts, core.WithStoreProvider(v))
	}
	if v := c.v.GetString("store.redis"); v != "" {
		opts = append(opts, core.WithRedisURL(v))
	}
	if v := c.v.GetString("store.database"); v != "" {
		opts = append(opts, core.WithDatabaseURL(v))
	}
	if v := c.v.GetInt("http.port"); v != 0 {
		opts = append(opts, core.WithPort(v))
	}

	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c *cli) seedFile() string {
	return c.v.GetString("store.seed")
}
