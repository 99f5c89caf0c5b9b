package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/immxrtalbeast/peerplay/internal/config"
	"github.com/immxrtalbeast/peerplay/internal/engine/tictactoe"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultConfigPath = "config/local.yaml"

type options struct {
	configPath string
	name       string
	avatar     string
	game       string
	private    bool
	ai         bool
	byPeerID   bool
	verbose    bool
}

func (o *options) loadConfig() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return config.Default(), nil
		}
		path = defaultConfigPath
	}
	return config.LoadPath(path)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	v := viper.New()
	v.SetEnvPrefix("PEERPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "peerplay",
		Short: "Play turn-based games with friends over direct peer connections.",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			bindEnv(v, cmd.Flags())
			return nil
		},
	}

	fs := cmd.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to config file (env: PEERPLAY_CONFIG)")
	fs.StringVarP(&opts.name, "name", "n", "", "nickname shown to other players (env: PEERPLAY_NAME)")
	fs.StringVar(&opts.avatar, "avatar", "", "avatar shown to other players (env: PEERPLAY_AVATAR)")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "log transport and room activity (env: PEERPLAY_VERBOSE)")

	cmd.AddCommand(
		newHostCmd(opts),
		newJoinCmd(opts),
		newResumeCmd(opts),
		newRoomsCmd(opts),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// bindEnv fills every flag the user did not set from its PEERPLAY_ variable.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newHostCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Create a room and wait for players",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.host(cmd.Context()); err != nil {
				return err
			}
			return a.loop(cmd.Context(), cmd.InOrStdin())
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.game, "game", "g", tictactoe.Slug, "game to play (env: PEERPLAY_GAME)")
	fs.BoolVar(&opts.private, "private", false, "keep the room out of the directory (env: PEERPLAY_PRIVATE)")
	fs.BoolVar(&opts.ai, "ai", false, "fill the free seat with a computer player (env: PEERPLAY_AI)")
	return cmd
}

func newJoinCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <room-code>",
		Short: "Join a room by its code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.join(cmd.Context(), args[0]); err != nil {
				return err
			}
			return a.loop(cmd.Context(), cmd.InOrStdin())
		},
	}
	cmd.Flags().BoolVar(&opts.byPeerID, "peer", false, "treat the argument as the host's peer id")
	return cmd
}

func newResumeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Rejoin the room of the previous run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.resume(cmd.Context()); err != nil {
				return err
			}
			return a.loop(cmd.Context(), cmd.InOrStdin())
		},
	}
}

func newRoomsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List open rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			dir, err := newDirectory(cfg, setupLogger(cfg.Env, opts.verbose))
			if err != nil {
				return err
			}
			if dir == nil {
				return errors.New("no directory configured")
			}
			rooms, err := dir.List(cmd.Context(), opts.game)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tGAME\tHOST\tPLAYERS")
			for _, r := range rooms {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\n", r.Code, r.GameSlug, r.HostName, r.Players, r.MaxPlayers)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&opts.game, "game", "g", "", "only list rooms for this game")
	return cmd
}
