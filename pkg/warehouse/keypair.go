package warehouse

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/youmark/pkcs8"
)

func wipeSlice(b []byte) {
	for i := range b {
		b[i] = '~'
	}
}

// loadPrivateKeyFile reads an RSA key for Snowflake key-pair authentication.
func loadPrivateKeyFile(path, passphrase string) (*rsa.PrivateKey, error) {
	keyBytes, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	defer wipeSlice(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", path, err)
	}
	if len(keyBytes) == 0 {
		return nil, errors.New("private key is empty")
	}
	return parsePrivateKey(keyBytes, passphrase)
}

// parsePrivateKey accepts PEM, or bare base64 DER as Snowflake tooling often
// emits. Encrypted keys must be PKCS#8 with PBES2.
func parsePrivateKey(keyBytes []byte, passphrase string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyBytes)
	if block == nil {
		der := make([]byte, base64.StdEncoding.DecodedLen(len(keyBytes)))
		n, err := base64.StdEncoding.Decode(der, keyBytes)
		if err != nil {
			return nil, errors.New("could not parse private key, key is not in PEM format")
		}
		block = &pem.Block{Type: "PRIVATE KEY", Bytes: der[:n]}
		if passphrase != "" {
			block.Type = "ENCRYPTED PRIVATE KEY"
		}
	}

	if block.Type == "ENCRYPTED PRIVATE KEY" {
		if passphrase == "" {
			return nil, errors.New("private key requires a passphrase")
		}
		key, err := pkcs8.ParsePKCS8PrivateKeyRSA(block.Bytes, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
		return key, nil
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not an RSA key")
	}
	return key, nil
}
