package identity_test

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmerrifield20/NexusLedger/internal/identity"
)

func newTestCA(t *testing.T) *identity.CAManager {
	t.Helper()
	ca := identity.NewCAManager(t.TempDir())
	if err := ca.Create(); err != nil {
		t.Fatalf("create CA: %v", err)
	}
	return ca
}

func TestCAManager_Create(t *testing.T) {
	dir := t.TempDir()
	ca := identity.NewCAManager(dir)

	if err := ca.Create(); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	for _, name := range []string{"ca.crt", "ca.key"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
	if ca.Cert() == nil {
		t.Fatal("Cert() returned nil after Create()")
	}
	if !ca.Cert().IsCA {
		t.Error("CA cert is not marked as a CA")
	}

	// Self-signed.
	if _, err := ca.Cert().Verify(x509.VerifyOptions{Roots: ca.CertPool()}); err != nil {
		t.Errorf("CA cert does not verify against itself: %v", err)
	}
}

func TestCAManager_LoadOrCreate_idempotent(t *testing.T) {
	dir := t.TempDir()
	ca1 := identity.NewCAManager(dir)
	if err := ca1.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	ca2 := identity.NewCAManager(dir)
	if err := ca2.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	if s1, s2 := ca1.Cert().SerialNumber.String(), ca2.Cert().SerialNumber.String(); s1 != s2 {
		t.Errorf("LoadOrCreate created a new CA on the second call (serial %s, then %s)", s1, s2)
	}
}

func TestCAManager_CertPEM(t *testing.T) {
	ca := newTestCA(t)
	pem := string(ca.CertPEM())
	if !strings.HasPrefix(pem, "-----BEGIN CERTIFICATE-----") {
		t.Errorf("CertPEM() does not start with PEM header: %q", pem)
	}
	if _, err := identity.CertPoolFromPEM(ca.CertPEM()); err != nil {
		t.Errorf("CertPoolFromPEM: %v", err)
	}
	if _, err := identity.CertPoolFromPEM([]byte("junk")); err == nil {
		t.Error("CertPoolFromPEM accepted a bundle without certificates")
	}
}
