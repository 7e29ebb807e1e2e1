package message

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/anchor/internal/canon"
)

// encodeDocument renders a JSON document blob in canonical form so that the
// same document always yields the same content identifier.
func encodeDocument(t Type, field string, doc map[string]any) ([]byte, error) {
	if doc == nil {
		return nil, newEmptyPayloadError(t, field)
	}
	data, err := canon.MarshalCanonical(doc)
	if err != nil {
		return nil, newInvalidMessageError(t, field, err.Error())
	}
	return data, nil
}

// decodeDocument parses a JSON document blob. Numbers stay json.Number so
// the document re-encodes byte-for-byte.
func decodeDocument(t Type, field string, data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, newEmptyPayloadError(t, field)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, newInvalidMessageError(t, field, fmt.Sprintf("invalid json document: %v", err))
	}
	if doc == nil {
		return nil, newEmptyPayloadError(t, field)
	}
	return doc, nil
}

// requireBlobs checks the resolved blob count for a message with n documents.
func requireBlobs(t Type, blobs [][]byte, n int) error {
	if len(blobs) == 0 {
		return newEmptyPayloadError(t, "document")
	}
	if len(blobs) != n {
		return newInvalidMessageError(t, "urls", fmt.Sprintf("expected %d documents, got %d", n, len(blobs)))
	}
	return nil
}

// DIDMessage anchors a DID document.
type DIDMessage struct {
	Envelope
	DID      string         `json:"did"`
	Document map[string]any `json:"-"`
}

// NewDIDMessage creates a DID message with a fresh id.
func NewDIDMessage(action Action) *DIDMessage {
	return &DIDMessage{Envelope: newEnvelope(TypeDIDDocument, action)}
}

func (m *DIDMessage) Validate() error {
	if err := m.validateHeader(TypeDIDDocument); err != nil {
		return err
	}
	if !m.isIssued() {
		return nil
	}
	if m.DID == "" {
		return newInvalidMessageError(m.Type, "did", "did is required")
	}
	if m.Document == nil {
		return newEmptyPayloadError(m.Type, "document")
	}
	return nil
}

func (m *DIDMessage) Documents() ([][]byte, error) {
	doc, err := encodeDocument(m.Type, "document", m.Document)
	if err != nil {
		return nil, err
	}
	return [][]byte{doc}, nil
}

func (m *DIDMessage) LoadDocuments(blobs [][]byte) error {
	if err := requireBlobs(m.Type, blobs, 1); err != nil {
		return err
	}
	doc, err := decodeDocument(m.Type, "document", blobs[0])
	if err != nil {
		return err
	}
	m.Document = doc
	return nil
}

// VCMessage anchors a verifiable credential. EVC-Document carries the same
// shape with an encrypted credential body.
type VCMessage struct {
	Envelope
	Issuer         string   `json:"issuer"`
	Relationships  []string `json:"relationships,omitempty"`
	DocumentStatus string   `json:"documentStatus,omitempty"`
	EncodedData    bool     `json:"encodedData,omitempty"`
	Hash           string   `json:"hash,omitempty"`
	InitID         string   `json:"initId,omitempty"`
	Tag            string   `json:"tag,omitempty"`
	Entity         string   `json:"entity,omitempty"`

	Document map[string]any `json:"-"`
}

// NewVCMessage creates a VC-Document message with a fresh id.
func NewVCMessage(action Action) *VCMessage {
	return &VCMessage{Envelope: newEnvelope(TypeVCDocument, action)}
}

func (m *VCMessage) Validate() error {
	if err := m.validateHeader(TypeVCDocument, TypeEVCDocument); err != nil {
		return err
	}
	if !m.isIssued() {
		return nil
	}
	if m.Issuer == "" {
		return newInvalidMessageError(m.Type, "issuer", "issuer is required")
	}
	if m.Document == nil {
		return newEmptyPayloadError(m.Type, "document")
	}
	return nil
}

func (m *VCMessage) Documents() ([][]byte, error) {
	doc, err := encodeDocument(m.Type, "document", m.Document)
	if err != nil {
		return nil, err
	}
	return [][]byte{doc}, nil
}

func (m *VCMessage) LoadDocuments(blobs [][]byte) error {
	if err := requireBlobs(m.Type, blobs, 1); err != nil {
		return err
	}
	doc, err := decodeDocument(m.Type, "document", blobs[0])
	if err != nil {
		return err
	}
	m.Document = doc
	return nil
}

func (m *VCMessage) RelationshipIDs() []string { return m.Relationships }

// VPMessage anchors a verifiable presentation.
type VPMessage struct {
	Envelope
	Issuer        string   `json:"issuer"`
	Relationships []string `json:"relationships,omitempty"`
	Hash          string   `json:"hash,omitempty"`
	Tag           string   `json:"tag,omitempty"`

	Document map[string]any `json:"-"`
}

// NewVPMessage creates a VP-Document message with a fresh id.
func NewVPMessage(action Action) *VPMessage {
	return &VPMessage{Envelope: newEnvelope(TypeVPDocument, action)}
}

func (m *VPMessage) Validate() error {
	if err := m.validateHeader(TypeVPDocument); err != nil {
		return err
	}
	if !m.isIssued() {
		return nil
	}
	if m.Issuer == "" {
		return newInvalidMessageError(m.Type, "issuer", "issuer is required")
	}
	if m.Document == nil {
		return newEmptyPayloadError(m.Type, "document")
	}
	return nil
}

func (m *VPMessage) Documents() ([][]byte, error) {
	doc, err := encodeDocument(m.Type, "document", m.Document)
	if err != nil {
		return nil, err
	}
	return [][]byte{doc}, nil
}

func (m *VPMessage) LoadDocuments(blobs [][]byte) error {
	if err := requireBlobs(m.Type, blobs, 1); err != nil {
		return err
	}
	doc, err := decodeDocument(m.Type, "document", blobs[0])
	if err != nil {
		return err
	}
	m.Document = doc
	return nil
}

func (m *VPMessage) RelationshipIDs() []string { return m.Relationships }
