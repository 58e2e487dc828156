// Package keystore loads and validates the asymmetric key material and
// Diffie-Hellman domain parameters the handshake depends on. Loading fails
// fast: either every file parses and passes the strength policy, or no
// KeyMaterial is returned at all. The result is immutable and safe for
// concurrent use without locking.
package keystore

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"

	"brokerlink/internal/domain"
)

// Policy sets the minimum acceptable key strengths. Configurations below
// these floors are rejected rather than silently weakening the handshake.
type Policy struct {
	MinRSABits int
	MinDHBits  int
}

// DefaultPolicy matches what the venue registers consumer keys with.
var DefaultPolicy = Policy{MinRSABits: 2048, MinDHBits: 2048}

// Paths names the three key files: the signature RSA private key, the
// encryption RSA private key, and the PKCS#3 DH parameter file.
type Paths struct {
	SignatureKey  string
	EncryptionKey string
	DHParams      string
}

// KeyMaterial is the loaded key set, owned exclusively by this package's
// caller and immutable for the process lifetime.
type KeyMaterial struct {
	Signature  *rsa.PrivateKey
	Encryption *rsa.PrivateKey
	P          *big.Int // DH prime
	G          *big.Int // DH generator
}

// Fingerprint returns the SHA-256 hex digest of a public key's PKIX form,
// so operators can confirm which key the consumer was registered with.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:]), nil
}

// Load reads and validates all key files under the default policy.
func Load(paths Paths) (*KeyMaterial, error) {
	return LoadWithPolicy(paths, DefaultPolicy)
}

// LoadWithPolicy reads and validates all key files under a caller policy.
func LoadWithPolicy(paths Paths, policy Policy) (*KeyMaterial, error) {
	sig, err := loadRSAPrivateKey(paths.SignatureKey, policy.MinRSABits)
	if err != nil {
		return nil, err
	}
	enc, err := loadRSAPrivateKey(paths.EncryptionKey, policy.MinRSABits)
	if err != nil {
		return nil, err
	}
	p, g, err := loadDHParams(paths.DHParams, policy.MinDHBits)
	if err != nil {
		return nil, err
	}
	return &KeyMaterial{Signature: sig, Encryption: enc, P: p, G: g}, nil
}

func loadRSAPrivateKey(path string, minBits int) (*rsa.PrivateKey, error) {
	der, err := readPEM(path, "RSA PRIVATE KEY", "PRIVATE KEY")
	if err != nil {
		return nil, &domain.KeyMaterialError{Path: path, Err: err}
	}

	var key *rsa.PrivateKey
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		key = k
	} else if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, &domain.KeyMaterialError{Path: path, Err: errors.New("not an RSA key")}
		}
		key = rk
	} else {
		return nil, &domain.KeyMaterialError{Path: path, Err: errors.New("unparsable private key")}
	}

	if err := key.Validate(); err != nil {
		return nil, &domain.KeyMaterialError{Path: path, Err: err}
	}
	if bits := key.N.BitLen(); bits < minBits {
		return nil, &domain.KeyMaterialError{
			Path: path,
			Err:  fmt.Errorf("RSA modulus is %d bits, below the %d-bit minimum", bits, minBits),
		}
	}
	return key, nil
}

// pkcs3DHParams is the ASN.1 body of a "DH PARAMETERS" PEM block.
type pkcs3DHParams struct {
	P *big.Int
	G *big.Int
}

func loadDHParams(path string, minBits int) (p, g *big.Int, err error) {
	der, err := readPEM(path, "DH PARAMETERS")
	if err != nil {
		return nil, nil, &domain.KeyMaterialError{Path: path, Err: err}
	}
	var params pkcs3DHParams
	if _, err := asn1.Unmarshal(der, &params); err != nil {
		return nil, nil, &domain.KeyMaterialError{Path: path, Err: err}
	}
	if err := validateDH(params.P, params.G, minBits); err != nil {
		return nil, nil, &domain.KeyMaterialError{Path: path, Err: err}
	}
	return params.P, params.G, nil
}

func validateDH(p, g *big.Int, minBits int) error {
	if p == nil || g == nil {
		return errors.New("missing DH prime or generator")
	}
	if bits := p.BitLen(); bits < minBits {
		return fmt.Errorf("DH prime is %d bits, below the %d-bit minimum", bits, minBits)
	}
	if !p.ProbablyPrime(20) {
		return errors.New("DH modulus is not prime")
	}
	pMinusOne := new(big.Int).Sub(p, big.NewInt(1))
	if g.Cmp(big.NewInt(2)) < 0 || g.Cmp(pMinusOne) >= 0 {
		return errors.New("DH generator out of range [2, p-2]")
	}
	return nil
}

func readPEM(path string, types ...string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	for _, t := range types {
		if block.Type == t {
			return block.Bytes, nil
		}
	}
	return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
}
