package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/strefethen/kef-hub-go/internal/auth"
	"github.com/strefethen/kef-hub-go/internal/config"
)

func newTokenCommand(opts *options) *cobra.Command {
	var (
		secret  string
		subject string
		scope   string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token for kef-hub",
		Long: `Mint a bearer token for the kef-hub HTTP API, signed with the hub's JWT_SECRET.

Examples:
  kefctl token --sub kitchen-tablet
  kefctl token --sub dashboard --scope read --ttl 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(strings.TrimSpace(secret)) < 32 {
				return fmt.Errorf("JWT secret must be at least 32 characters (pass --secret or set JWT_SECRET)")
			}
			parsedScope, err := auth.ParseScope(scope)
			if err != nil {
				return err
			}
			cfg := config.Config{JWTSecret: secret, JWTAccessTokenExpirySec: int((24 * time.Hour).Seconds())}
			token, err := auth.GenerateToken(cfg, auth.Client{Sub: subject, Scope: parsedScope}, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			return printResult(cmd, opts, map[string]any{"token": token, "scope": parsedScope, "sub": subject}, token)
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "signing secret")
	cmd.Flags().StringVar(&subject, "sub", "kefctl", "token subject (client name)")
	cmd.Flags().StringVar(&scope, "scope", string(auth.ScopeControl), "control or read")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default 24h)")
	return cmd
}
