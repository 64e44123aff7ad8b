package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/klipach/courier/client"
	"github.com/klipach/courier/config"
	"github.com/klipach/courier/log"
	"github.com/klipach/courier/session"
	"github.com/spf13/cobra"
)

// skipSetup marks commands that run without connecting to the backends.
const skipSetup = "skipSetup"

type app struct {
	configPath string
	logLevel   string

	cfg      config.Config
	logger   *slog.Logger
	client   *client.Client
	sessions *session.Cache
	closers  []func() error
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "courier",
		Short:        "One-to-one messaging client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $COURIER_CONFIG or the user config dir)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newRegisterCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newUsersCmd(a),
		newContactsCmd(a),
		newChatCmd(a),
		newSendCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, _, err := config.Load(nil, a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	a.cfg = cfg
	a.logger = slog.New(log.NewCloudLoggingHandlerWriter(os.Stderr, log.ParseLevel(cfg.LogLevel)))
	if _, ok := cmd.Annotations[skipSetup]; ok {
		return nil
	}

	ctx := cmd.Context()
	if cfg.RemoteLogging {
		logger, closeFn, err := client.NewLogger(ctx, cfg)
		if err != nil {
			a.logger.Warn("remote logging unavailable", log.Err(err))
		} else {
			a.logger = logger
			a.closers = append(a.closers, closeFn)
		}
	}
	ctx = log.WithLogger(ctx, a.logger)
	cmd.SetContext(ctx)

	c, err := client.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	a.client = c
	a.closers = append(a.closers, c.Close)

	sessions, err := session.Open(cfg.SessionPath)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	a.sessions = sessions
	a.closers = append(a.closers, sessions.Close)
	return session.Restore(sessions, c.Provider, time.Now())
}

// saveSession persists whatever principal the provider currently holds.
func (a *app) saveSession() error {
	principal, ok := a.client.Provider.CurrentPrincipal()
	if !ok {
		return client.ErrNotSignedIn
	}
	return a.sessions.Save(principal)
}

func (a *app) close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
