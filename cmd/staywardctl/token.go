package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/stayward/stayward/internal/auditledger"
	"github.com/stayward/stayward/internal/config"
	"github.com/stayward/stayward/internal/governor"
	"github.com/stayward/stayward/internal/identity"
	"github.com/stayward/stayward/internal/store"
	"github.com/stayward/stayward/pkg/client"
	"go.uber.org/zap"
)

// adminSecretEnv supplies the operator secret without a prompt.
const adminSecretEnv = "STAYWARD_ADMIN_SECRET"

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint and discard access tokens",
}

// ── token issue ──────────────────────────────────────────────────────────────

var (
	issueUser   string
	issueRole   string
	issueSave   bool
	secretStdin bool
)

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Sign an access token with the server's key",
	Long: `Issue signs a bearer token with the key at auth.key_path and records a
LOGIN entry in the audit chain of the configured database.

ADMIN tokens require the operator secret whose bcrypt hash is configured as
auth.admin_secret_hash. Supply it on stdin with --secret-stdin or in
$` + adminSecretEnv + `.

Examples:

  staywardctl token issue --user u-17 --role CONCIERGE
  echo "$SECRET" | staywardctl token issue --user ops --role ADMIN --secret-stdin --save`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := serverConfig()
		if err != nil {
			return err
		}
		role, ok := identity.ParseRole(issueRole)
		if !ok {
			return fmt.Errorf("unknown role %q", issueRole)
		}
		var secret string
		if role.Privileged() {
			if secret, err = readSecret(cmd.InOrStdin()); err != nil {
				return err
			}
		}

		tok, err := issueToken(cmd.Context(), cfg, issueUser, role, secret, newLogger())
		if err != nil {
			return err
		}
		if !issueSave {
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		}
		path, err := tokenPath()
		if err != nil {
			return err
		}
		if err := client.SaveToken(path, tok); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "token for %s (%s) saved to %s\n", issueUser, role, path)
		return nil
	},
}

// ── token logout ─────────────────────────────────────────────────────────────

var tokenLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the saved token and record a LOGOUT entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := serverConfig()
		if err != nil {
			return err
		}
		path, err := tokenPath()
		if err != nil {
			return err
		}
		tok := tokenFlag
		if tok == "" {
			if tok, err = client.LoadToken(path); err != nil {
				return err
			}
		}
		claims, err := logout(cmd.Context(), cfg, tok, newLogger())
		if err != nil {
			return err
		}
		if tokenFlag == "" {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove token: %w", err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged out %s\n", claims.UserID)
		return nil
	},
}

// ── hash-secret ──────────────────────────────────────────────────────────────

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret",
	Short: "Hash an operator secret for auth.admin_secret_hash",
	Long: `hash-secret reads a secret from stdin (or $` + adminSecretEnv + `) and prints
its bcrypt hash, ready to paste into stayward.yaml as auth.admin_secret_hash.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secretStdin = true
		secret, err := readSecret(cmd.InOrStdin())
		if err != nil {
			return err
		}
		hash, err := identity.HashSecret(secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&issueUser, "user", "", "user ID the token is issued to")
	tokenIssueCmd.Flags().StringVar(&issueRole, "role", string(identity.RoleConcierge), "ADMIN, MANAGER, CONCIERGE or OWNER")
	tokenIssueCmd.Flags().BoolVar(&issueSave, "save", false, "save the token for later staywardctl commands instead of printing it")
	tokenIssueCmd.Flags().BoolVar(&secretStdin, "secret-stdin", false, "read the operator secret from stdin")
	_ = tokenIssueCmd.MarkFlagRequired("user")

	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenLogoutCmd)
}

// readSecret returns $STAYWARD_ADMIN_SECRET, or the first line of in when
// --secret-stdin is set and the variable is empty.
func readSecret(in io.Reader) (string, error) {
	if s := os.Getenv(adminSecretEnv); s != "" {
		return s, nil
	}
	if !secretStdin {
		return "", fmt.Errorf("operator secret required: set $%s or pass --secret-stdin", adminSecretEnv)
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read secret: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty secret on stdin")
	}
	return line, nil
}

// issueToken signs a token for userID and records the LOGIN. Privileged
// roles must present the operator secret.
func issueToken(ctx context.Context, cfg *config.Config, userID string, role identity.Role, secret string, logger *zap.Logger) (string, error) {
	if role.Privileged() {
		if cfg.Auth.AdminSecretHash == "" {
			return "", errors.New("auth.admin_secret_hash is not configured; run `staywardctl hash-secret` first")
		}
		if err := identity.CheckSecret(cfg.Auth.AdminSecretHash, secret); err != nil {
			return "", err
		}
	}

	tokens, err := loadIssuer(cfg)
	if err != nil {
		return "", err
	}
	tok, err := tokens.Issue(userID, role)
	if err != nil {
		return "", err
	}
	claims, err := tokens.Verify(tok)
	if err != nil {
		return "", err
	}

	err = recordSession(ctx, cfg.Database, claims, governor.VerbLogin, auditledger.Metadata{
		"channel":    "staywardctl",
		"token_id":   claims.ID,
		"expires_at": claims.ExpiresAt.Time.UTC().Format(time.RFC3339),
	}, logger)
	if err != nil {
		return "", err
	}
	return tok, nil
}

// logout verifies tok and records the LOGOUT of its holder.
func logout(ctx context.Context, cfg *config.Config, tok string, logger *zap.Logger) (*identity.Claims, error) {
	tokens, err := loadIssuer(cfg)
	if err != nil {
		return nil, err
	}
	claims, err := tokens.Verify(tok)
	if err != nil {
		return nil, fmt.Errorf("saved token is not valid for this server: %w", err)
	}
	err = recordSession(ctx, cfg.Database, claims, governor.VerbLogout, auditledger.Metadata{
		"channel":  "staywardctl",
		"token_id": claims.ID,
	}, logger)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func loadIssuer(cfg *config.Config) (*identity.TokenIssuer, error) {
	key, err := identity.LoadOrCreateKey(cfg.Auth.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	return identity.NewTokenIssuer(key, cfg.IssuerURL(), cfg.Auth.TokenTTL), nil
}

// recordSession appends a LOGIN or LOGOUT entry for the token holder. The
// memory driver has no chain shared with the server, so nothing is written.
func recordSession(ctx context.Context, db config.DatabaseConfig, claims *identity.Claims, verb governor.Verb, meta auditledger.Metadata, logger *zap.Logger) error {
	if db.Driver == config.DriverMemory {
		logger.Warn("memory driver: session not recorded in the audit chain", zap.String("user_id", claims.UserID))
		return nil
	}
	backend, err := store.Open(ctx, db, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	gov := governor.New(backend.Ledger, logger)
	if _, err := gov.Record(ctx, claims.Actor(), verb, identity.EntityName, claims.UserID, meta); err != nil {
		return fmt.Errorf("record %s: %w", verb, err)
	}
	return nil
}
