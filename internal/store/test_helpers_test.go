package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/anchor/internal/ledger"
)

// createTestStore creates a new temporary store for testing.
// The clock is pinned so timestamps are deterministic.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	t.Cleanup(func() { s.Close() })
	return s
}

var testKeys = TokenKeys{
	Supply:   []byte("supply-key"),
	Treasury: []byte("treasury-key"),
	Wipe:     []byte("wipe-key"),
}

// createTestToken registers a token whose treasury is account 0.0.2.
func createTestToken(t *testing.T, s *Store, typ ledger.TokenType) string {
	t.Helper()
	id, err := s.CreateToken(t.Context(), ledger.Token{
		Name:     "Carbon",
		Symbol:   "CRB",
		Type:     typ,
		Treasury: "0.0.2",
		Owner:    "did:example:owner",
	}, testKeys)
	if err != nil {
		t.Fatalf("CreateToken() failed: %v", err)
	}
	return id
}
