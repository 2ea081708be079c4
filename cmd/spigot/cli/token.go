package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/spigotdb/spigot/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		ttl     time.Duration
		subject string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin session token",
		Long: `Mint a signed admin JWT for managing a Spigot server.

The token is signed with the same auth.jwt_secret the server was started
with; it does not talk to the server. If the secret is not in the config or
SPIGOT_AUTH_JWT_SECRET, you are prompted for it.`,
		Example: `  spigot token
  spigot token --ttl 24h
  SPIGOT_TOKEN=$(spigot token) spigot key list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(subject, ttl)
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	cmd.Flags().StringVar(&subject, "subject", "cli", "Subject claim recorded in the token")

	return cmd
}

func runToken(subject string, ttl time.Duration) error {
	secret := ""
	if cfg, err := loadConfig(); err == nil {
		secret = cfg.Auth.JWTSecret
	}
	if secret == "" {
		secret = viper.GetString("auth.jwt_secret")
	}
	if secret == "" {
		fmt.Fprint(os.Stderr, "JWT secret: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read secret: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		secret = string(raw)
	}
	if secret == "" {
		return fmt.Errorf("a JWT secret is required to mint tokens")
	}

	token, err := auth.NewSessions(secret).Issue(subject, ttl)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	fmt.Println(token)
	return nil
}
