package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/NexusLedger/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Nexus Ledger CLI",
	Long: `ledgerctl is the command-line client of the Nexus Ledger.

It generates and registers keys, registers contracts and functions,
executes contracts and validates asset history on a ledger server.

Settings are read from flags, then LEDGERCTL_* environment variables,
then ~/.ledgerctl/config.yaml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".ledgerctl"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("LEDGERCTL")
		viper.AutomaticEnv()
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if cfgFile != "" || !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.ledgerctl/config.yaml)")
	pf.String("server", "http://localhost:8080", "ledger server URL")
	pf.String("entity", "", "entity id requests are signed as")
	pf.Uint32("key-version", 1, "key version of the signing key")
	pf.String("key", "", "PEM private key file (digital-signature authentication)")
	pf.String("secret", "", "HMAC secret (hmac authentication)")
	pf.String("auditor-key", "", "PEM private key of the auditor, for ledgers in auditor mode")
	pf.String("token", "", "operator bearer token from 'ledgerctl login'")
	pf.Duration("timeout", 30*time.Second, "request timeout")

	for _, name := range []string{"server", "entity", "key-version", "key", "secret", "auditor-key", "token", "timeout"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}

	rootCmd.AddCommand(keygenCmd, adminHashCmd, loginCmd)
	rootCmd.AddCommand(registerCertCmd, registerSecretCmd, registerContractCmd, registerFunctionCmd, contractsCmd)
	rootCmd.AddCommand(executeCmd, validateCmd, validateBatchCmd, proofCmd)
	rootCmd.AddCommand(versionCmd)
}

// credentials builds signing credentials from the configured key or secret.
func credentials() (*client.Credentials, error) {
	entity := viper.GetString("entity")
	if entity == "" {
		return nil, errors.New("--entity is required")
	}
	kv := viper.GetUint32("key-version")
	switch {
	case viper.GetString("key") != "":
		return client.LoadCertificateCredentials(entity, kv, viper.GetString("key"))
	case viper.GetString("secret") != "":
		return client.SecretCredentials(entity, kv, viper.GetString("secret"))
	default:
		return nil, errors.New("one of --key or --secret is required")
	}
}

// newClient connects to the configured server. Signing credentials are
// attached when signed is set.
func newClient(signed bool, extra ...client.Option) (*client.Client, error) {
	opts := []client.Option{client.WithBearerToken(viper.GetString("token"))}
	if signed {
		creds, err := credentials()
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithCredentials(creds))
	}
	if path := viper.GetString("auditor-key"); path != "" {
		auditor, err := client.LoadCertificateCredentials("", 0, path)
		if err != nil {
			return nil, fmt.Errorf("auditor key: %w", err)
		}
		opts = append(opts, client.WithAuditorSigner(auditor.Signer))
	}
	return client.New(viper.GetString("server"), append(opts, extra...)...)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("ledgerctl", version)
	},
}
