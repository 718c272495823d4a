package executor

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"

	"golang.org/x/crypto/ssh"
)

// ErrUnparsableKey is returned when the credential's key material is not a
// private key in any supported format. This also catches ciphertext handed
// through unchanged after a failed decrypt (legacy-plaintext tolerance in
// the catalog layer).
var ErrUnparsableKey = errors.New("unable to parse private key. Supported types: RSA, Ed25519, ECDSA")

// parsePrivateKey turns PEM/OpenSSH key material into an ssh.Signer.
// Supported types are probed in a fixed order: RSA first, then Ed25519,
// then ECDSA. DSA and anything else is rejected.
func parsePrivateKey(content string) (ssh.Signer, error) {
	raw, err := ssh.ParseRawPrivateKey([]byte(content))
	if err != nil {
		return nil, ErrUnparsableKey
	}

	switch key := raw.(type) {
	case *rsa.PrivateKey:
		return ssh.NewSignerFromKey(key)
	case *ed25519.PrivateKey:
		return ssh.NewSignerFromKey(key)
	case ed25519.PrivateKey:
		return ssh.NewSignerFromKey(key)
	case *ecdsa.PrivateKey:
		return ssh.NewSignerFromKey(key)
	default:
		return nil, ErrUnparsableKey
	}
}
