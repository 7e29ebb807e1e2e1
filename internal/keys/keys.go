// Package keys defines the key-custody collaborator.
//
// Keys are fetched per operation and dropped afterwards. Nothing in the
// system caches key material across ticks or requests.
package keys

import (
	"context"
	"errors"
)

//go:generate mockgen -source=keys.go -destination=mocks/mocks.go -package=mocks Custody

// Purpose selects which of an owner's keys is requested.
type Purpose string

const (
	PurposeTreasury Purpose = "treasury"
	PurposeSupply   Purpose = "supply"
	PurposeWipe     Purpose = "wipe"
	PurposeSigning  Purpose = "signing"
)

// ErrKeyNotFound is returned when custody holds no key for the request.
// It is fatal for the single operation that needed the key.
var ErrKeyNotFound = errors.New("key not found")

// Custody returns private key material. tokenID is empty for keys that are
// not token-scoped (signing keys).
type Custody interface {
	GetKey(ctx context.Context, ownerDID string, purpose Purpose, tokenID string) ([]byte, error)
}

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeTreasury, PurposeSupply, PurposeWipe, PurposeSigning:
		return true
	}
	return false
}
