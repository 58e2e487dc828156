package crypto

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// SignRSASHA256 signs the SHA-256 digest of msg with the RSA private key
// using PKCS#1 v1.5 and returns the standard base64 encoding.
func SignRSASHA256(key *rsa.PrivateKey, msg []byte) (string, error) {
	digest := sha256.Sum256(msg)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignHMACSHA256 returns the standard base64 HMAC-SHA256 of msg under key.
func SignHMACSHA256(key, msg []byte) string {
	return base64.StdEncoding.EncodeToString(HMACSHA256(key, msg))
}

// HMACSHA256 returns the raw HMAC-SHA256 of msg under key.
func HMACSHA256(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}

// DecryptRSA opens an RSA PKCS#1 v1.5 ciphertext with the encryption
// private key. The venue uses this scheme for the access-token secret.
func DecryptRSA(key *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	return rsa.DecryptPKCS1v15(rand.Reader, key, ciphertext)
}

// ConstantTimeEqual compares two byte slices without leaking timing.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Zero overwrites b with zeros so secret material does not linger.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}
