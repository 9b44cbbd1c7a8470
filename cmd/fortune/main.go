// Package main is the fortune command: a server holding fortunes in memory
// and a client that fetches or submits them.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Zereker/fortune"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// placeholder is treated as displayed before the first fetch.
const placeholder = "This example requires that you run the fortune server as well."

var logger logrus.FieldLogger = logrus.StandardLogger()

func newRootCmd(cfg *config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fortune",
		Short:         "Exchanges fortunes with a fortune server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			setLogger(cfg.LogLevel)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Uint16Var(&cfg.Port, "port", cfg.Port, "server port")
	rootCmd.PersistentFlags().DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "give up on a stalled peer after this long (0 waits forever)")
	rootCmd.PersistentFlags().IntVar(&cfg.MaxLength, "max-length", cfg.MaxLength, "maximum fortune length in UTF-16 code units (0 uses the default)")

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Starts a fortune server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd, cfg)
		},
	}
	serverCmd.Flags().StringVar(&cfg.Listen, "listen", cfg.Listen, "address to listen on (empty for all interfaces)")
	serverCmd.Flags().DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "keep serving this long after a shutdown signal")

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Fetches every fortune from a server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGet(cmd, cfg)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <fortune>",
		Short: "Submits a fortune to a server.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(cmd, cfg, args[0])
		},
	}

	for _, c := range []*cobra.Command{getCmd, setCmd} {
		c.Flags().StringVar(&cfg.Host, "host", cfg.Host, "server host name or address")
	}

	hostsCmd := &cobra.Command{
		Use:   "hosts",
		Short: "Lists host names and addresses of this machine.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, h := range localHosts() {
				fmt.Fprintln(cmd.OutOrStdout(), h)
			}
			return nil
		},
	}

	rootCmd.AddCommand(serverCmd, getCmd, setCmd, hostsCmd)
	return rootCmd
}

func runServer(cmd *cobra.Command, cfg *config) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := &net.TCPAddr{Port: int(cfg.Port)}
	if cfg.Listen != "" {
		addr.IP = net.ParseIP(cfg.Listen)
		if addr.IP == nil {
			return errors.Errorf("invalid listen address %q", cfg.Listen)
		}
	}

	lg := fortune.NewLogrusLogger(logger)
	srv, err := fortune.New(addr,
		fortune.ServerLoggerOption(lg),
		fortune.ServerShutdownTimeoutOption(cfg.ShutdownTimeout),
	)
	if err != nil {
		return errors.Wrap(err, "start server failed")
	}
	defer srv.Close()

	fmt.Fprintln(cmd.OutOrStdout(), serverStatus(statusIP(), srv.Port()))

	handler := fortune.NewFortuneHandler(fortune.NewDefaultStore(),
		fortune.LoggerOption(lg),
		fortune.IdleTimeoutOption(cfg.IdleTimeout),
		fortune.MessageMaxSize(cfg.MaxLength),
	)
	err = srv.Serve(ctx, handler)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return errors.Wrap(err, "serve failed")
}

func newSession(cfg *config, text string) (*fortune.Session, error) {
	in := fortune.Inputs{Host: cfg.Host, Port: strconv.Itoa(int(cfg.Port)), Text: text}
	if !in.Valid() {
		return nil, errors.Errorf("host, port and fortune text are required (host %q, port %d)", cfg.Host, cfg.Port)
	}
	return fortune.NewSession(cfg.Host, cfg.Port,
		fortune.SessionLoggerOption(fortune.NewLogrusLogger(logger)),
		fortune.SessionIdleTimeoutOption(cfg.IdleTimeout),
		fortune.SessionMaxSize(cfg.MaxLength),
		fortune.InitialDisplayOption(placeholder),
	), nil
}

func runGet(cmd *cobra.Command, cfg *config) error {
	s, err := newSession(cfg, placeholder)
	if err != nil {
		return err
	}
	defer s.Close()

	text, err := s.ReadFortune(cmd.Context())
	if err != nil {
		return userError(err)
	}
	fmt.Fprint(cmd.OutOrStdout(), text)
	return nil
}

func runSet(cmd *cobra.Command, cfg *config, text string) error {
	s, err := newSession(cfg, text)
	if err != nil {
		return err
	}
	defer s.Close()

	return userError(s.SubmitFortune(cmd.Context(), text))
}

// userError turns a session error into the message shown to the user.
// Benign failures are dropped.
func userError(err error) error {
	if err == nil {
		return nil
	}
	var ce *fortune.ConnectionError
	if !errors.As(err, &ce) {
		return err
	}
	if ce.Benign() {
		logger.WithError(err).Debug("server closed the connection")
		return nil
	}
	return errors.New(ce.Message())
}

func main() {
	cfg := loadFromEnv()
	if err := newRootCmd(&cfg).Execute(); err != nil {
		logger.Fatal(errors.Wrap(err, "execute root command failed"))
	}
}
