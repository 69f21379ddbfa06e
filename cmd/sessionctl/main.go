package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/app"
	"github.com/nobodyz328/MyWeb-sub005/internal/infra/config"
)

const closeTimeout = 10 * time.Second

// sessionAdmin is the slice of the session manager the CLI drives.
type sessionAdmin interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, bool, error)
	GetUserActiveSession(ctx context.Context, userID string) (*domain.Session, bool, error)
	TerminateSession(ctx context.Context, sessionID string, reason domain.TerminationReason) (bool, error)
	GetSessionStatistics(ctx context.Context) (*domain.SessionStatistics, error)
}

type opener func(ctx context.Context) (sessionAdmin, func(context.Context) error, error)

func main() {
	_ = godotenv.Load()

	if err := execute(newRootCommand(openEngine)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func openEngine(ctx context.Context) (sessionAdmin, func(context.Context) error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	// Audit events from the CLI still go to the configured sinks; the HTTP
	// consumer is not started here.
	engine, err := app.NewEngine(ctx, cfg, zap.NewNop(), prometheus.NewRegistry())
	if err != nil {
		return nil, nil, err
	}
	return engine.Sessions, engine.Close, nil
}

// execute runs cmd and then releases whatever the command opened, also when it failed.
func execute(cmd *cobra.Command, closeEngine func() error) (err error) {
	defer func() {
		if closeErr := closeEngine(); err == nil {
			err = closeErr
		}
	}()
	return cmd.Execute()
}

func newRootCommand(open opener) (*cobra.Command, func() error) {
	var (
		admin   sessionAdmin
		closeFn func(context.Context) error
	)

	cmd := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Inspect and revoke blog sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			admin, closeFn, err = open(commandContext(cmd))
			return err
		},
	}

	closeEngine := func() error {
		if closeFn == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		err := closeFn(ctx)
		closeFn = nil
		return err
	}

	sessions := func() sessionAdmin { return admin }
	cmd.AddCommand(newStatsCommand(sessions))
	cmd.AddCommand(newShowCommand(sessions))
	cmd.AddCommand(newUserCommand(sessions))
	cmd.AddCommand(newRevokeCommand(sessions))
	return cmd, closeEngine
}

func newStatsCommand(sessions func() sessionAdmin) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print aggregated session statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := sessions().GetSessionStatistics(commandContext(cmd))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newShowCommand(sessions func() sessionAdmin) *cobra.Command {
	return &cobra.Command{
		Use:   "show <sessionID>",
		Short: "Print a session if it is still valid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, ok, err := sessions().GetSession(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("session not found")
			}
			return writeJSON(cmd.OutOrStdout(), redact(*session))
		},
	}
}

func newUserCommand(sessions func() sessionAdmin) *cobra.Command {
	return &cobra.Command{
		Use:   "user <userID>",
		Short: "Print the active session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, ok, err := sessions().GetUserActiveSession(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("no active session")
			}
			return writeJSON(cmd.OutOrStdout(), redact(*session))
		},
	}
}

func newRevokeCommand(sessions func() sessionAdmin) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "revoke <sessionID>",
		Short: "Force-logout a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, ok := domain.LookupTerminationReason(reason)
			if !ok {
				return fmt.Errorf("unknown termination reason %q", reason)
			}
			revoked, err := sessions().TerminateSession(commandContext(cmd), args[0], parsed)
			if err != nil {
				return err
			}
			if !revoked {
				fmt.Fprintf(cmd.OutOrStdout(), "session %s was not active\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s revoked (%s)\n", args[0], parsed)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", string(domain.TerminationReasonAdminRevoke), "Termination reason recorded in the audit log")
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func redact(session domain.Session) domain.Session {
	session.AccessToken = ""
	session.RefreshToken = ""
	return session
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
