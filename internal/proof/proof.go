// Package proof signs asset proofs with the deployment's key.
package proof

import (
	"github.com/jmerrifield20/NexusLedger/internal/asset"
	"github.com/jmerrifield20/NexusLedger/internal/identity"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

// Composer builds signed proofs. A Composer without a signer produces no
// proofs; callers treat a nil proof as "integrity assurance unavailable".
type Composer struct {
	signer identity.Signer
}

// NewComposer creates a Composer. signer may be nil.
func NewComposer(signer identity.Signer) *Composer {
	return &Composer{signer: signer}
}

// Enabled reports whether proofs are signed.
func (c *Composer) Enabled() bool { return c != nil && c.signer != nil }

// Create returns the signed proof of r, or nil when proofs are disabled.
func (c *Composer) Create(namespace string, r *asset.Record) (*asset.Proof, error) {
	if !c.Enabled() {
		return nil, nil
	}
	p := asset.NewProof(namespace, r)
	sig, err := c.signer.Sign(p.SigningBytes())
	if err != nil {
		return nil, status.Wrap(status.RuntimeError, err, "sign proof of %q age %d", r.ID, r.Age)
	}
	p.Signature = sig
	return p, nil
}

// CreateAll returns the proofs of records in order. With proofs disabled
// it returns nil.
func (c *Composer) CreateAll(namespace string, records []*asset.Record) ([]*asset.Proof, error) {
	if !c.Enabled() {
		return nil, nil
	}
	out := make([]*asset.Proof, 0, len(records))
	for _, r := range records {
		p, err := c.Create(namespace, r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
