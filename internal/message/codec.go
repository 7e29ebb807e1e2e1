package message

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/roach88/anchor/internal/blob"
	"github.com/roach88/anchor/internal/canon"
)

// Wire is the serialized form of a message: the canonical JSON submitted to
// the ledger plus the document blobs stored off-ledger, in URL order.
type Wire struct {
	JSON  []byte
	Blobs [][]byte
}

// ToWire validates m and serializes it. Content identifiers for every
// document are computed locally and recorded in m's URLs, so the JSON can
// be built before the blobs are uploaded.
//
// Messages whose status is not ISSUE serialize only their header and
// revocation fields and carry no documents.
func ToWire(m Message) (Wire, error) {
	if err := m.Validate(); err != nil {
		return Wire{}, err
	}

	h := m.Header()
	var blobs [][]byte
	if h.isIssued() {
		docs, err := m.Documents()
		if err != nil {
			return Wire{}, err
		}
		blobs = docs
	}

	urls := make([]URL, 0, len(blobs))
	for _, b := range blobs {
		c, err := blob.ComputeCID(b)
		if err != nil {
			return Wire{}, fmt.Errorf("to wire: %w", err)
		}
		urls = append(urls, URL{CID: string(c), URI: blob.URI(c)})
	}
	if len(urls) > 0 {
		h.URLs = urls
	} else {
		h.URLs = nil
	}

	obj, err := wireObject(m)
	if err != nil {
		return Wire{}, err
	}
	data, err := canon.MarshalCanonical(obj)
	if err != nil {
		return Wire{}, newInvalidMessageError(h.Type, "", err.Error())
	}
	return Wire{JSON: data, Blobs: blobs}, nil
}

// wireObject returns the generic JSON object for m.
func wireObject(m Message) (any, error) {
	var src any = m
	if h := m.Header(); !h.isIssued() {
		src = h
	}
	obj, err := canon.Normalize(src)
	if err != nil {
		return nil, newInvalidMessageError(m.Header().Type, "", err.Error())
	}
	return obj, nil
}

// PeekType returns the type field of a wire message without decoding it.
func PeekType(data []byte) (Type, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", newInvalidMessageError("", "", fmt.Sprintf("invalid json: %v", err))
	}
	return head.Type, nil
}

// PeekHeader decodes only the envelope of a wire message. The topic client
// uses it to filter records and to find the blobs to resolve before a full
// decode.
func PeekHeader(data []byte) (Envelope, error) {
	var h Envelope
	if err := json.Unmarshal(data, &h); err != nil {
		return Envelope{}, newInvalidMessageError("", "", fmt.Sprintf("invalid json: %v", err))
	}
	if h.Status == "" {
		h.Status = StatusIssue
	}
	return h, nil
}

// References returns the CIDs FromWire expects blobs for. Non-issued
// messages reference nothing.
func (e Envelope) References() []blob.CID {
	if !e.isIssued() {
		return nil
	}
	out := make([]blob.CID, 0, len(e.URLs))
	for _, u := range e.URLs {
		out = append(out, blob.CID(u.CID))
	}
	return out
}

// FromWire decodes a wire message. blobs are the documents resolved from
// the message's URLs, in order; each is checked against its CID.
//
// If want is non-empty the wire type must equal it, otherwise the call
// fails with an INVALID_MESSAGE_TYPE CodecError. A type that mandates a
// document fails with EMPTY_PAYLOAD when none is supplied.
func FromWire(data []byte, blobs [][]byte, want Type) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return nil, newInvalidMessageError("", "", "invalid json")
	}

	t, _ := raw["type"].(string)
	if want != "" && Type(t) != want {
		return nil, newInvalidTypeError(want, Type(t))
	}
	ctor, ok := registry[Type(t)]
	if !ok {
		return nil, &CodecError{
			Code:    ErrCodeUnknownType,
			Message: fmt.Sprintf("no message registered for type %q", t),
			Type:    Type(t),
		}
	}

	m := ctor()
	if err := decodeInto(raw, m); err != nil {
		return nil, newInvalidMessageError(Type(t), "", err.Error())
	}

	h := m.Header()
	if h.Status == "" {
		h.Status = StatusIssue
	}
	if h.Lang == "" {
		h.Lang = DefaultLang
	}
	if h.isIssued() {
		if err := verifyBlobs(h, blobs); err != nil {
			return nil, err
		}
		if err := m.LoadDocuments(blobs); err != nil {
			return nil, err
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeInto(raw map[string]any, m Message) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Squash:  true,
		Result:  m,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

func verifyBlobs(h *Envelope, blobs [][]byte) error {
	if len(blobs) == 0 {
		return nil
	}
	if len(blobs) != len(h.URLs) {
		return newInvalidMessageError(h.Type, "urls",
			fmt.Sprintf("message references %d documents, %d resolved", len(h.URLs), len(blobs)))
	}
	for i, u := range h.URLs {
		if err := blob.Verify(blob.CID(u.CID), blobs[i]); err != nil {
			return newInvalidMessageError(h.Type, "urls", err.Error())
		}
	}
	return nil
}

// CIDs returns the content identifiers referenced by a wire message.
func CIDs(m Message) []blob.CID {
	urls := m.Header().URLs
	out := make([]blob.CID, 0, len(urls))
	for _, u := range urls {
		out = append(out, blob.CID(u.CID))
	}
	return out
}

// Hash returns base58(sha256) over the canonical wire object of m.
// Ledger-assigned fields are not part of the wire object, so the hash is
// stable across publication.
func Hash(m Message) (string, error) {
	obj, err := wireObject(m)
	if err != nil {
		return "", err
	}
	return canon.Base58Hash(obj)
}
