package blob

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
)

// CID is a content identifier: a CIDv1 with the raw codec and a sha2-256
// multihash, rendered in multibase base32 ("b..." prefix).
type CID string

const (
	cidVersion = 1
	codecRaw   = 0x55

	// URIScheme prefixes the resolvable URI recorded next to every CID.
	URIScheme = "ipfs://"
)

// ErrCIDMismatch is returned when stored bytes no longer hash to their CID.
var ErrCIDMismatch = errors.New("content does not match identifier")

// ComputeCID derives the identifier for data locally, without a round trip
// to the storage network. Put on any backend returns the same value.
func ComputeCID(data []byte) (CID, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("compute cid: %w", err)
	}

	buf := make([]byte, 0, 2+len(mh))
	buf = append(buf, varint.ToUvarint(cidVersion)...)
	buf = append(buf, varint.ToUvarint(codecRaw)...)
	buf = append(buf, mh...)

	s, err := multibase.Encode(multibase.Base32, buf)
	if err != nil {
		return "", fmt.Errorf("compute cid: %w", err)
	}
	return CID(s), nil
}

// Parse decodes a CID string and returns its sha2-256 digest.
func Parse(c CID) ([]byte, error) {
	_, raw, err := multibase.Decode(string(c))
	if err != nil {
		return nil, fmt.Errorf("parse cid %q: %w", c, err)
	}

	version, n, err := varint.FromUvarint(raw)
	if err != nil {
		return nil, fmt.Errorf("parse cid %q: version: %w", c, err)
	}
	if version != cidVersion {
		return nil, fmt.Errorf("parse cid %q: unsupported version %d", c, version)
	}
	raw = raw[n:]

	codec, n, err := varint.FromUvarint(raw)
	if err != nil {
		return nil, fmt.Errorf("parse cid %q: codec: %w", c, err)
	}
	if codec != codecRaw {
		return nil, fmt.Errorf("parse cid %q: unsupported codec 0x%x", c, codec)
	}

	decoded, err := multihash.Decode(raw[n:])
	if err != nil {
		return nil, fmt.Errorf("parse cid %q: multihash: %w", c, err)
	}
	if decoded.Code != multihash.SHA2_256 {
		return nil, fmt.Errorf("parse cid %q: unsupported hash %s", c, decoded.Name)
	}
	return decoded.Digest, nil
}

// Verify checks that data hashes to c.
func Verify(c CID, data []byte) error {
	want, err := Parse(c)
	if err != nil {
		return err
	}
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return fmt.Errorf("verify cid: %w", err)
	}
	got, err := multihash.Decode(mh)
	if err != nil {
		return fmt.Errorf("verify cid: %w", err)
	}
	if !bytes.Equal(want, got.Digest) {
		return fmt.Errorf("%w: %s", ErrCIDMismatch, c)
	}
	return nil
}

// URI returns the resolvable URI for c.
func URI(c CID) string {
	return URIScheme + string(c)
}
