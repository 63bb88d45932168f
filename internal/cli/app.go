package cli

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/gconsian/nfex/internal/config"
	"github.com/gconsian/nfex/internal/nfestore"
	"github.com/gconsian/nfex/internal/session"
)

// app is the per-invocation wiring shared by every command: resolved
// configuration, the user's session, and the session's private store.
type app struct {
	cfg    config.Config
	sess   *session.Session
	priv   *nfestore.Store
	logger *slog.Logger
}

// newApp builds the application context for one command invocation.
// Startup side effects, in order: reclaim stale scratch files, resume or
// create the session, refresh its liveness marker, warn about other live
// sessions, seed the private store from the shared snapshot.
func newApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg, err := config.Load(opts.ConfigFile, opts.BaseDir, opts.TempDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	now := time.Now()
	if removed := session.ReclaimStale(cfg.TempDir, now, logger); removed > 0 {
		logger.Info("reclaimed stale scratch files", "count", removed)
	}

	sess, created, err := session.LoadOrCreate(cfg.TempDir, cfg.User, now)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to initialize session", err)
	}
	if created {
		logger.Debug("session started", "session", sess.ID, "user", sess.User)
	}
	if err := sess.Publish(now); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to publish session marker", err)
	}

	if others, err := sess.ListLive(now); err == nil && len(others) > 0 {
		logger.Warn("other live sessions detected; shared store merges are serialized",
			"count", len(others))
	}

	priv := nfestore.New(sess.PrivateStorePath())
	if err := priv.Seed(cfg.SharedStorePath()); err != nil {
		// An inaccessible private store is the one fatal condition for a
		// session; every other failure is recovered per document/record.
		return nil, WrapExitError(ExitCommandError, "failed to initialize private store", err)
	}

	return &app{cfg: cfg, sess: sess, priv: priv, logger: logger}, nil
}

// formatter builds the output formatter for a command.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
