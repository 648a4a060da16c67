package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/gtaskfs/internal/mirror"
)

type editOptions struct {
	dir            string
	debounce       time.Duration
	interval       time.Duration
	intervalJitter float64
	timeout        time.Duration
	once           bool
}

func newEditCmd(a *app) *cobra.Command {
	opts := editOptions{}
	cmd := &cobra.Command{
		Use:   "edit ADDRESS...",
		Short: "Mirror documents to local files and push saved edits",
		Long: `Mirror documents to local JSON files. Saving a file submits it; the file
is then refreshed from the service. A failed submit leaves the local edits
in place so they can be fixed and saved again.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, a, opts, args)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.dir, "dir", "", "local mirror directory (default mirror_dir)")
	flags.DurationVar(&opts.debounce, "debounce", 150*time.Millisecond, "delay before submitting a saved file")
	flags.DurationVar(&opts.interval, "interval", 30*time.Second, "refresh interval for unedited documents, 0 to disable")
	flags.Float64Var(&opts.intervalJitter, "interval-jitter", 0.2, "refresh interval jitter ratio (0.0-1.0)")
	flags.DurationVar(&opts.timeout, "timeout", 15*time.Second, "per-request timeout")
	flags.BoolVar(&opts.once, "once", false, "write the local files and exit")
	return cmd
}

func runEdit(cmd *cobra.Command, a *app, opts editOptions, addresses []string) error {
	dir := strings.TrimSpace(opts.dir)
	if dir == "" {
		dir = a.cfg.MirrorDir
	}
	if dir == "" {
		return a.printer.Error("mirror directory is not set", "", []string{"pass --dir", "set mirror_dir in gtaskfs.yml"})
	}
	m, err := mirror.New(a.provider, mirror.Options{
		Root:         dir,
		Debounce:     opts.debounce,
		PollInterval: opts.interval,
		PollJitter:   opts.intervalJitter,
		Timeout:      opts.timeout,
		Logger:       &a.logger,
	})
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, address := range addresses {
		if _, err := resolveAddress([]string{address}); err != nil {
			return err
		}
		trackCtx, cancel := context.WithTimeout(ctx, opts.timeout)
		path, err := m.Track(trackCtx, address)
		cancel()
		if err != nil {
			return documentError(a, "read", address, err)
		}
		a.printer.Step("%s → %s", address, path)
	}
	if opts.once {
		return nil
	}
	a.printer.Info("Watching for saves, press Ctrl+C to stop")
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info().Msg("edit session stopped")
	return nil
}
