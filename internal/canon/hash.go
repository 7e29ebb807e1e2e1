package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// Domain prefixes for locally computed identities.
// Version suffix enables future algorithm migration.
const (
	DomainMintRequest = "anchor/mint-request/v1"
	DomainTransaction = "anchor/transaction/v1"
)

// HashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data), hex encoded.
// The null byte separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ID computes a domain-separated identity over the canonical form of v.
func ID(domain string, v any) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("canonical id: %w", err)
	}
	return HashWithDomain(domain, data), nil
}

// Base58Hash returns base58(sha256(canonical(v))).
// This is the published hash format for messages and credentials; it
// carries no domain prefix so third parties can recompute it.
func Base58Hash(v any) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("base58 hash: %w", err)
	}
	sum := sha256.Sum256(data)
	return base58.Encode(sum[:]), nil
}

// MustBase58Hash is like Base58Hash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustBase58Hash(v any) string {
	h, err := Base58Hash(v)
	if err != nil {
		panic(err)
	}
	return h
}
