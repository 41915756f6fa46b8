package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/andaru/epp/client"
	"github.com/andaru/epp/config"
	"github.com/andaru/epp/session"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "EPPCTL"

// app holds the settings shared by all subcommands.
type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	rootCmd := &cobra.Command{
		Use:          "eppctl",
		Short:        "Send EPP commands to a registry",
		Long:         "eppctl borrows a logged in EPP session for the selected system and sends one command on it.",
		SilenceUsage: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "eppctl.toml", "configuration file (TOML or YAML)")
	flags.StringP("system", "s", config.DefaultSystem, "system to use")
	flags.Duration("timeout", 2*time.Minute, "overall command timeout")
	flags.AddGoFlagSet(flag.CommandLine)

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	for _, name := range []string{"config", "system", "timeout"} {
		if err := a.v.BindPFlag(name, flags.Lookup(name)); err != nil {
			rootCmd.RunE = func(*cobra.Command, []string) error { return err }
			return rootCmd
		}
	}

	rootCmd.AddCommand(
		newHelloCmd(a),
		newPollCmd(a),
		newSendCmd(a),
		newSystemsCmd(a),
	)
	return rootCmd
}

// loadConfig reads the configuration file named by the config flag.
func (a *app) loadConfig() (*config.Config, error) {
	path := a.v.GetString("config")
	if path == "" {
		return nil, errors.New("no configuration file given")
	}
	return config.Load(path)
}

// withSession borrows a session for the selected system, calls fn and
// returns or invalidates the session according to fn's error.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session.Session) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, a.v.GetDuration("timeout"))
	defer cancel()

	c, err := client.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close(context.WithoutCancel(ctx))
	return c.Do(ctx, a.v.GetString("system"), func(s *session.Session) error { return fn(ctx, s) })
}
