package executor

import (
	"crypto/ed25519"
	"fmt"
)

// LocalSigner is a Signer over in-memory key material handed to the core by
// the custody layer. The core never persists or derives keys itself.
type LocalSigner struct {
	publicKey string
	priv      ed25519.PrivateKey
}

// NewLocalSigner wraps an already-decrypted ed25519 private key.
func NewLocalSigner(publicKey string, priv ed25519.PrivateKey) (*LocalSigner, error) {
	if publicKey == "" {
		return nil, fmt.Errorf("%w: empty public key", ErrInvalidSigner)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: bad private key length %d", ErrInvalidSigner, len(priv))
	}
	return &LocalSigner{publicKey: publicKey, priv: priv}, nil
}

// PublicKey returns the wallet address.
func (s *LocalSigner) PublicKey() string { return s.publicKey }

// Sign signs the serialized transaction.
func (s *LocalSigner) Sign(tx []byte) ([]byte, error) {
	if len(s.priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidSigner
	}
	sig := ed25519.Sign(s.priv, tx)
	return append(sig, tx...), nil
}
