// cmd/staywardctl is the Stayward operator CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stayward/stayward/internal/config"
	"github.com/stayward/stayward/pkg/client"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

const defaultServerURL = "http://localhost:8080"

var (
	serverURL string
	cfgFile   string
	tokenFlag string
	verbose   bool
)

// cli holds operator settings from ~/.stayward/config.yaml. Server-side
// settings (database, signing key) come from config.Load.
var cli = viper.New()

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "staywardctl",
	Short: "Stayward operator CLI",
	Long: `staywardctl talks to a Stayward server to verify the audit chain,
browse audit history, review petitions and mint access tokens.

Commands that read the server's database directly (verify --direct,
token issue) use the same configuration as the server: stayward.yaml in
./configs or ., overridden by environment variables such as DATABASE_URL.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			cli.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			cli.AddConfigPath(filepath.Join(home, ".stayward"))
			cli.SetConfigName("config")
			cli.SetConfigType("yaml")
		}
		cli.SetEnvPrefix("STAYWARDCTL")
		cli.AutomaticEnv()
		if err := cli.ReadInConfig(); err != nil && cfgFile != "" {
			return fmt.Errorf("read %s: %w", cfgFile, err)
		}

		if serverURL == "" {
			serverURL = cli.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = defaultServerURL
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.stayward/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Stayward server URL (default "+defaultServerURL+")")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "bearer token (default: contents of ~/.stayward/token)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log database and key activity")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(petitionsCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(hashSecretCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── helpers ──────────────────────────────────────────────────────────────────

// newClient returns an SDK client authenticated with --token, the
// token_path setting, or the default token file.
func newClient() (*client.Client, error) {
	if tokenFlag != "" {
		return client.New(serverURL, client.WithBearerToken(tokenFlag))
	}
	path, err := tokenPath()
	if err != nil {
		return nil, err
	}
	c, err := client.New(serverURL, client.WithTokenFile(path))
	if err != nil {
		return nil, fmt.Errorf("%w (run `staywardctl token issue --save` or pass --token)", err)
	}
	return c, nil
}

func tokenPath() (string, error) {
	if p := cli.GetString("token_path"); p != "" {
		return p, nil
	}
	return client.DefaultTokenPath()
}

func serverConfig() (*config.Config, error) {
	cfg, _, err := config.Load(config.New())
	if err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}
	return cfg, nil
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the staywardctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "staywardctl %s\n", version)
	},
}
