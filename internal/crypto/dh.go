package crypto

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// dhExponentBits sizes the ephemeral private exponent. 256 random bits is
// ample for the subgroup sizes of the MODP primes the venue uses.
const dhExponentBits = 256

var (
	one = big.NewInt(1)
	two = big.NewInt(2)
)

// DHKeyPair is an ephemeral Diffie-Hellman key pair. The private exponent
// is regenerated on every handshake and never persisted.
type DHKeyPair struct {
	X      *big.Int // private exponent
	Public *big.Int // g^x mod p
}

// GenerateDH draws a fresh private exponent and computes g^x mod p.
func GenerateDH(p, g *big.Int) (*DHKeyPair, error) {
	limit := new(big.Int).Lsh(one, dhExponentBits)
	x, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, err
	}
	// Force x >= 2 so the public value is never the identity.
	if x.Cmp(two) < 0 {
		x.Add(x, two)
	}
	return &DHKeyPair{X: x, Public: new(big.Int).Exp(g, x, p)}, nil
}

// SharedSecret computes peer^x mod p and returns its big-endian bytes.
// A zero byte is prepended when the high bit is set, matching the two's
// complement encoding the counterparty feeds into its HMAC.
func (kp *DHKeyPair) SharedSecret(peer, p *big.Int) ([]byte, error) {
	if peer == nil || peer.Cmp(two) < 0 || peer.Cmp(new(big.Int).Sub(p, one)) >= 0 {
		return nil, errors.New("peer DH public value out of range")
	}
	k := new(big.Int).Exp(peer, kp.X, p)
	b := k.Bytes()
	if len(b) > 0 && b[0]&0x80 != 0 {
		b = append([]byte{0x00}, b...)
	}
	k.SetInt64(0)
	return b, nil
}
