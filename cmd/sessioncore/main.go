// sessioncore serves, replays and inspects streaming chat sessions.
package main

import (
	"os"
	"strings"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/sessioncore/pkg/redisstream"
)

const appName = "sessioncore"

func main() {
	root, err := newRootCommand()
	if err != nil {
		log.Fatal().Err(err).Msg("could not build commands")
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// cliConfig carries the viper instance the root command builds once flags are
// parsed. Subcommands read settings from it in RunE.
type cliConfig struct {
	v *viper.Viper
}

func newRootCommand() (*cobra.Command, error) {
	cfg := &cliConfig{v: viper.New()}
	root := &cobra.Command{
		Use:           appName,
		Short:         "Serve, replay and inspect streaming chat sessions",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initLogging(cmd); err != nil {
				return err
			}
			v, err := initViper(cmd)
			if err != nil {
				return err
			}
			cfg.v = v
			return nil
		},
	}

	if err := clay.InitGlazed(appName, root); err != nil {
		return nil, errors.Wrap(err, "add logging flags")
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "YAML settings file (default: $HOME/.sessioncore/config.yaml when present)")
	pf.String("protocol", "text", "Default session protocol (text, structured)")
	pf.String("db", "", "SQLite transcript database file (empty keeps transcripts in memory)")
	pf.String("config-dir", defaultConfigDir(), "Directory of the configuration entry store")
	redisstream.AddFlags(pf)

	root.AddCommand(
		newServeCommand(cfg),
		newReplayCommand(cfg),
		newPublishCommand(cfg),
		newSessionsCommand(cfg),
		newConfigCommand(cfg),
	)
	return root, nil
}

// initLogging checks the glazed logging flags before handing them to glazed,
// which silently falls back for unknown values.
func initLogging(cmd *cobra.Command) error {
	format, err := cmd.Flags().GetString("log-format")
	if err != nil {
		return errors.Wrap(err, "reading --log-format")
	}
	switch strings.ToLower(format) {
	case "text", "json":
	default:
		return errors.Errorf("invalid log format %q", format)
	}
	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return errors.Wrap(err, "reading --log-level")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(level)); err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	return logging.InitLoggerFromCobra(cmd)
}

// initViper reads the config file and SESSIONCORE_* environment through clay,
// then binds the parsed flags of cmd so explicit flags win.
func initViper(cmd *cobra.Command) (*viper.Viper, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, errors.Wrap(err, "reading --config")
	}
	v, err := clay.InitViperInstanceWithAppName(appName, configFile)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", configFile)
	}
	// nested keys such as redis.addr map to SESSIONCORE_REDIS_ADDR
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, errors.Wrap(err, "bind flags")
	}
	if err := redisstream.BindFlags(cmd.Flags(), v); err != nil {
		return nil, err
	}
	return v, nil
}
