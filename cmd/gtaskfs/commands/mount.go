package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/gtaskfs/internal/fusemount"
)

func newMountCmd(a *app) *cobra.Command {
	var (
		debug   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mount [MOUNTPOINT]",
		Short: "Mount documents as a FUSE filesystem",
		Long: `Mount documents at MOUNTPOINT as /<list>/<task>.json. Directories cannot
be listed; open a task file by its path. Closing a written file submits it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mountPoint := a.cfg.MountPoint
			if len(args) == 1 {
				mountPoint = args[0]
			}
			mountPoint = strings.TrimSpace(mountPoint)
			if mountPoint == "" {
				return a.printer.Error("mount point is not set", "", []string{"pass MOUNTPOINT", "set mount_point in gtaskfs.yml"})
			}
			if err := os.MkdirAll(mountPoint, 0o755); err != nil {
				return fmt.Errorf("create mount point: %w", err)
			}
			server, err := fusemount.Mount(mountPoint, a.provider, fusemount.Options{
				Debug:   debug,
				Timeout: timeout,
				Logger:  &a.logger,
			})
			if err != nil {
				return a.printer.Error(
					fmt.Sprintf("failed to mount %s", mountPoint),
					err.Error(),
					[]string{"check that FUSE is installed", "check that the mount point is an empty directory"},
				)
			}
			a.printer.Success("Mounted at %s", mountPoint)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				if err := server.Unmount(); err != nil {
					a.logger.Error().Err(err).Msg("unmount failed")
				}
			}()
			server.Wait()
			a.logger.Info().Str("mount_point", mountPoint).Msg("unmounted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "log FUSE requests")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")
	return cmd
}
