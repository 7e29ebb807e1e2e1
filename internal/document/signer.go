package document

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3"

	"github.com/roach88/anchor/internal/canon"
	"github.com/roach88/anchor/internal/keys"
)

// ProofType is the linked-data proof type written by JWSSigner.
const ProofType = "Ed25519Signature2018"

// Signer attaches a proof to a credential on behalf of did.
type Signer interface {
	Sign(ctx context.Context, did string, credential map[string]any) (map[string]any, error)
}

// JWSSigner signs credentials with the owner's Ed25519 signing key as a
// detached JWS over the canonical credential body.
type JWSSigner struct {
	custody keys.Custody
	now     func() time.Time
}

// NewJWSSigner creates a signer that fetches keys from custody per call.
func NewJWSSigner(custody keys.Custody) *JWSSigner {
	return &JWSSigner{custody: custody, now: time.Now}
}

// Sign returns a copy of credential with any previous proof replaced.
func (s *JWSSigner) Sign(ctx context.Context, did string, credential map[string]any) (map[string]any, error) {
	raw, err := s.custody.GetKey(ctx, did, keys.PurposeSigning, "")
	if err != nil {
		return nil, fmt.Errorf("get signing key: %w", err)
	}
	priv, err := signingKey(raw)
	if err != nil {
		return nil, err
	}

	unsigned := withoutProof(credential)
	payload, err := canon.MarshalCanonical(unsigned)
	if err != nil {
		return nil, fmt.Errorf("canonicalize credential: %w", err)
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: priv}, nil)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign credential: %w", err)
	}
	jws, err := obj.DetachedCompactSerialize()
	if err != nil {
		return nil, fmt.Errorf("serialize jws: %w", err)
	}

	unsigned["proof"] = map[string]any{
		"type":               ProofType,
		"created":            s.now().UTC().Format(time.RFC3339),
		"verificationMethod": did + "#key-1",
		"proofPurpose":       "assertionMethod",
		"jws":                jws,
	}
	return unsigned, nil
}

// Verify checks the detached JWS proof on credential against pub.
func Verify(credential map[string]any, pub ed25519.PublicKey) error {
	proof, ok := credential["proof"].(map[string]any)
	if !ok {
		return errors.New("credential has no proof")
	}
	jws, _ := proof["jws"].(string)
	if jws == "" {
		return errors.New("proof has no jws")
	}
	payload, err := canon.MarshalCanonical(withoutProof(credential))
	if err != nil {
		return fmt.Errorf("canonicalize credential: %w", err)
	}
	obj, err := jose.ParseDetached(jws, payload)
	if err != nil {
		return fmt.Errorf("parse jws: %w", err)
	}
	if _, err := obj.Verify(pub); err != nil {
		return fmt.Errorf("verify jws: %w", err)
	}
	return nil
}

// signingKey accepts either a 32-byte seed or a 64-byte private key.
func signingKey(raw []byte) (ed25519.PrivateKey, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	}
	return nil, fmt.Errorf("signing key has %d bytes, want %d or %d", len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
}

// withoutProof returns a shallow copy of credential without its proof.
func withoutProof(credential map[string]any) map[string]any {
	out := make(map[string]any, len(credential))
	for k, v := range credential {
		if k != "proof" {
			out[k] = v
		}
	}
	return out
}
