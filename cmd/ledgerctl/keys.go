package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/NexusLedger/internal/identity"
	"github.com/jmerrifield20/NexusLedger/pkg/request"
)

var (
	keygenOut      string
	keygenCADir    string
	keygenValidFor time.Duration
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a P-256 key and certificate for an entity",
	Long: `keygen writes cert.pem and key.pem for --entity into --out.

The certificate is self-signed unless --ca-dir names a development CA, in
which case the CA is loaded (or created) there and signs the certificate.
Point the server's identity.trusted_ca_bundle at <ca-dir>/ca.crt to accept
only certificates issued this way.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		entity := viper.GetString("entity")
		if entity == "" {
			return fmt.Errorf("--entity is required")
		}

		var (
			issued *identity.IssuedCert
			err    error
		)
		if keygenCADir != "" {
			ca := identity.NewCAManager(keygenCADir)
			if err := ca.LoadOrCreate(); err != nil {
				return fmt.Errorf("CA setup: %w", err)
			}
			issued, err = identity.NewIssuer(ca).IssueEntityCert(entity, keygenValidFor)
		} else {
			issued, err = identity.GenerateSelfSigned(entity, keygenValidFor)
		}
		if err != nil {
			return err
		}

		dir := keygenOut
		if dir == "" {
			dir = filepath.Join("certs", entity)
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		if err := os.WriteFile(filepath.Join(dir, "cert.pem"), []byte(issued.CertPEM), 0o644); err != nil {
			return fmt.Errorf("write cert.pem: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "key.pem"), []byte(issued.KeyPEM), 0o600); err != nil {
			return fmt.Errorf("write key.pem: %w", err)
		}
		fmt.Printf("wrote %s/cert.pem and %s/key.pem (serial %s)\n", dir, dir, issued.Serial)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenOut, "out", "", "output directory (default certs/<entity>)")
	keygenCmd.Flags().StringVar(&keygenCADir, "ca-dir", "", "development CA directory; self-signed when empty")
	keygenCmd.Flags().DurationVar(&keygenValidFor, "valid-for", 365*24*time.Hour, "certificate lifetime")
}

var adminHashCmd = &cobra.Command{
	Use:   "admin-hash <secret>",
	Short: "Print the bcrypt hash to use as the server's admin.secret_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := identity.HashAdminSecret(args[0])
		if err != nil {
			return err
		}
		fmt.Println(h)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <admin-secret>",
	Short: "Exchange the admin secret for an operator token",
	Long: `login prints an operator token. Export it as LEDGERCTL_TOKEN or pass
it with --token to register keys and functions on a protected server.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(false)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("timeout"))
		defer cancel()
		token, err := c.Login(ctx, "ledgerctl", args[0])
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func registeredIdentity() (request.Identity, error) {
	entity := viper.GetString("entity")
	if entity == "" {
		return request.Identity{}, fmt.Errorf("--entity is required")
	}
	return request.Identity{EntityID: entity, KeyVersion: viper.GetUint32("key-version")}, nil
}

var registerCertCmd = &cobra.Command{
	Use:   "register-cert <cert.pem>",
	Short: "Register a certificate for --entity at --key-version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := registeredIdentity()
		if err != nil {
			return err
		}
		pem, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		c, err := newClient(false)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("timeout"))
		defer cancel()
		if err := c.RegisterCertificate(ctx, id, string(pem)); err != nil {
			return err
		}
		fmt.Printf("certificate %s/%d registered\n", id.EntityID, id.KeyVersion)
		return nil
	},
}

var registerSecretCmd = &cobra.Command{
	Use:   "register-secret <secret>",
	Short: "Register an HMAC secret for --entity at --key-version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := registeredIdentity()
		if err != nil {
			return err
		}
		c, err := newClient(false)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("timeout"))
		defer cancel()
		if err := c.RegisterSecret(ctx, id, args[0]); err != nil {
			return err
		}
		fmt.Printf("secret %s/%d registered\n", id.EntityID, id.KeyVersion)
		return nil
	},
}
