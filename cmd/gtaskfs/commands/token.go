package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/gtaskfs/internal/httpapi"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for gtaskfs serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(a.cfg.JWTSecret) == "" {
				return a.printer.Error("jwt_secret is not set", "", []string{"set jwt_secret in gtaskfs.yml", "set GTASKFS_JWT_SECRET"})
			}
			token, err := httpapi.IssueToken(a.cfg.JWTSecret, subject, scopes, ttl, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "gtaskfs-cli", "token subject, used as the rate limit key")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{"docs:read", "docs:write"}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
