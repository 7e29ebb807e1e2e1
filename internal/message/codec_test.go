package message

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// doc parses a JSON literal the same way decoded documents are parsed, so
// round-tripped documents compare equal.
func doc(t *testing.T, s string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var out map[string]any
	require.NoError(t, dec.Decode(&out))
	return out
}

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	w, err := ToWire(m)
	require.NoError(t, err)

	got, err := FromWire(w.JSON, w.Blobs, m.Header().Type)
	require.NoError(t, err)
	return got
}

func TestRoundTripAllTypes(t *testing.T) {
	did := NewDIDMessage(ActionCreateDID)
	did.DID = "did:anchor:0.0.1"
	did.Document = doc(t, `{"id":"did:anchor:0.0.1","verificationMethod":[{"type":"Ed25519VerificationKey2018"}]}`)

	policy := NewPolicyMessage(TypePolicy, ActionPublishPolicy)
	policy.Name = "iREC"
	policy.Owner = "did:anchor:owner"
	policy.Version = "1.0.0"
	policy.PolicyTopicID = "0.0.10"
	policy.InstanceTopicID = "0.0.11"
	policy.SynchronizationTopicID = "0.0.12"
	policy.Archive = []byte("PK\x03\x04 policy archive")

	instance := NewPolicyMessage(TypeInstancePolicy, ActionCreateInstance)
	instance.Name = "iREC"
	instance.Owner = "did:anchor:owner"
	instance.Archive = []byte("instance archive")

	schema := NewSchemaMessage(TypeSchema, ActionCreateSchema)
	schema.Name = "MonitoringReport"
	schema.Owner = "did:anchor:owner"
	schema.SchemaUUID = "4f2b"
	schema.Version = "1.0.0"
	schema.Document = doc(t, `{"$id":"#4f2b","properties":{"field0":{"type":"string","isUpdatable":true}}}`)
	schema.Context = doc(t, `{"@context":{"field0":"https://schema.org/value"}}`)

	pkg := NewSchemaMessage(TypeSchemaPackage, ActionPublishSchemas)
	pkg.Name = "bundle"
	pkg.SchemaUUID = "bundle-1"
	pkg.Document = doc(t, `{"schemas":["#4f2b"]}`)
	pkg.Context = doc(t, `{}`)

	module := NewModuleMessage(ActionPublishModule)
	module.Name = "approval"
	module.Owner = "did:anchor:owner"
	module.ModuleUUID = "m-1"
	module.Archive = []byte("module archive")

	tag := NewTagMessage(ActionPublishTag)
	tag.Name = "verified"
	tag.Owner = "did:anchor:owner"
	tag.Target = "0.0.10-3"
	tag.Document = doc(t, `{"note":"checked"}`)

	bareTag := NewTagMessage(ActionPublishTag)
	bareTag.Name = "plain"
	bareTag.Target = "0.0.10-4"

	token := NewTokenMessage(ActionCreateToken)
	token.TokenID = "0.0.300"
	token.TokenName = "Carbon"
	token.TokenSymbol = "CRB"
	token.TokenType = "non-fungible"
	token.Owner = "did:anchor:owner"

	vc := NewVCMessage(ActionCreateVC)
	vc.Issuer = "did:anchor:issuer"
	vc.Relationships = []string{"0.0.10-1", "0.0.10-2"}
	vc.DocumentStatus = "NEW"
	vc.InitID = "0.0.10-1"
	vc.Document = doc(t, `{"id":"urn:uuid:1","credentialSubject":[{"field0":"a","amount":12.5}]}`)

	evc := NewVCMessage(ActionCreateVC)
	evc.Type = TypeEVCDocument
	evc.Issuer = "did:anchor:issuer"
	evc.EncodedData = true
	evc.Document = doc(t, `{"ciphertext":"AAEC"}`)

	vp := NewVPMessage(ActionCreateVP)
	vp.Issuer = "did:anchor:issuer"
	vp.Relationships = []string{"0.0.10-5"}
	vp.Document = doc(t, `{"verifiableCredential":[{"id":"urn:uuid:1"}]}`)

	member := NewSynchronizationMessage(ActionCreateMultiPolicy)
	member.Policy = "0.0.11"
	member.PolicyType = PolicyTypeMain
	member.PolicyOwner = "did:anchor:owner"
	member.User = "0.0.900"

	contribution := NewSynchronizationMessage(ActionMint)
	contribution.Policy = "0.0.11"
	contribution.PolicyOwner = "0.0.900"
	contribution.User = "0.0.900"
	contribution.Hash = "hash-1"
	contribution.MessageID = "0.0.11-9"
	contribution.TokenID = "0.0.300"
	contribution.Amount = 40
	contribution.Target = "0.0.901"

	topic := NewTopicMessage(ActionCreateTopic)
	topic.Name = "instance"
	topic.ParentID = "0.0.10"

	prov := NewProvenanceMessage(ActionMint)
	prov.TokenID = "0.0.300"
	prov.Target = "0.0.901"
	prov.Requested = 25
	prov.Amount = 20
	prov.Serials = []int64{1, 2, 3}
	prov.Memo = "0.0.10-5 batch"
	prov.Relationships = []string{"0.0.10-5"}

	tests := []Message{did, policy, instance, schema, pkg, module, tag, bareTag, token, vc, evc, vp, member, contribution, topic, prov}
	for _, m := range tests {
		t.Run(string(m.Header().Type)+"/"+string(m.Header().Action), func(t *testing.T) {
			got := roundTrip(t, m)
			assert.Equal(t, m, got)
		})
	}
}

func TestToWireSetsURLsFromBlobs(t *testing.T) {
	schema := NewSchemaMessage(TypeSchema, ActionCreateSchema)
	schema.Name = "s"
	schema.SchemaUUID = "u"
	schema.Document = doc(t, `{"a":"1"}`)
	schema.Context = doc(t, `{"b":"2"}`)

	w, err := ToWire(schema)
	require.NoError(t, err)
	require.Len(t, w.Blobs, 2)
	require.Len(t, schema.URLs, 2)
	assert.Equal(t, `{"a":"1"}`, string(w.Blobs[0]))
	assert.Equal(t, "ipfs://"+schema.URLs[0].CID, schema.URLs[0].URI)
	assert.NotEqual(t, schema.URLs[0].CID, schema.URLs[1].CID)

	// Ledger entry carries references only, never the documents.
	assert.NotContains(t, string(w.JSON), `"a":"1"`)
	assert.Len(t, CIDs(schema), 2)
}

func TestScenarioSchemaReadBack(t *testing.T) {
	schema := NewSchemaMessage(TypeSchema, ActionCreateSchema)
	schema.Name = "MonitoringReport"
	schema.Version = "1.2.0"
	schema.SchemaUUID = "4f2b"
	schema.Document = doc(t, `{"$id":"#4f2b"}`)
	schema.Context = doc(t, `{}`)

	got := roundTrip(t, schema)
	s, ok := got.(*SchemaMessage)
	require.True(t, ok)
	assert.Equal(t, TypeSchema, s.Type)
	assert.Equal(t, "MonitoringReport", s.Name)
	assert.Equal(t, "1.2.0", s.Version)
}

func TestFromWireRejectsTypeMismatch(t *testing.T) {
	token := NewTokenMessage(ActionCreateToken)
	token.TokenID = "0.0.1"
	w, err := ToWire(token)
	require.NoError(t, err)

	_, err = FromWire(w.JSON, w.Blobs, TypeSchema)
	require.Error(t, err)
	assert.True(t, IsInvalidType(err))
	assert.Contains(t, err.Error(), "INVALID_MESSAGE_TYPE")
}

func TestFromWireUnknownType(t *testing.T) {
	_, err := FromWire([]byte(`{"type":"Unheard-Of","action":"x","id":"1","lang":"en-US"}`), nil, "")
	require.Error(t, err)
	assert.True(t, IsInvalidType(err))
}

func TestFromWireEmptyPayload(t *testing.T) {
	vc := NewVCMessage(ActionCreateVC)
	vc.Issuer = "did:anchor:issuer"
	vc.Document = doc(t, `{"id":"1"}`)
	w, err := ToWire(vc)
	require.NoError(t, err)

	_, err = FromWire(w.JSON, nil, TypeVCDocument)
	require.Error(t, err)
	assert.True(t, IsEmptyPayload(err))
}

func TestFromWireRejectsTamperedBlob(t *testing.T) {
	vc := NewVCMessage(ActionCreateVC)
	vc.Issuer = "did:anchor:issuer"
	vc.Document = doc(t, `{"id":"1"}`)
	w, err := ToWire(vc)
	require.NoError(t, err)

	_, err = FromWire(w.JSON, [][]byte{[]byte(`{"id":"2"}`)}, TypeVCDocument)
	require.Error(t, err)
	assert.True(t, IsInvalidMessage(err))
}

func TestFromWireMalformedJSON(t *testing.T) {
	for _, input := range []string{"", "not json", "null", "[1,2]"} {
		_, err := FromWire([]byte(input), nil, "")
		require.Error(t, err, "input %q", input)
		assert.True(t, IsCodecError(err), "input %q", input)
	}
}

func TestFromWireValidatesDecodedMessage(t *testing.T) {
	// Mint contribution without a hash.
	data := []byte(`{"type":"Synchronization-Event","action":"mint","id":"1","lang":"en-US","policy":"p","user":"u","messageId":"m","tokenId":"t"}`)
	_, err := FromWire(data, nil, TypeSynchronization)
	require.Error(t, err)
	assert.True(t, IsInvalidMessage(err))
	assert.Contains(t, err.Error(), "field=hash")
}

func TestFromWireDefaultsLangAndStatus(t *testing.T) {
	data := []byte(`{"type":"Token","action":"create-token","id":"1","tokenId":"0.0.5"}`)
	m, err := FromWire(data, nil, TypeToken)
	require.NoError(t, err)
	assert.Equal(t, DefaultLang, m.Header().Lang)
	assert.Equal(t, StatusIssue, m.Header().Status)
}

func TestValidateBlocksPublication(t *testing.T) {
	tests := []struct {
		name  string
		msg   Message
		check func(error) bool
	}{
		{"vc without document", func() Message {
			m := NewVCMessage(ActionCreateVC)
			m.Issuer = "did:x"
			return m
		}(), IsEmptyPayload},
		{"policy without archive", func() Message {
			m := NewPolicyMessage(TypePolicy, ActionPublishPolicy)
			m.Name = "p"
			m.Owner = "o"
			return m
		}(), IsEmptyPayload},
		{"schema wrong type", func() Message {
			m := NewSchemaMessage(TypeToken, ActionCreateSchema)
			return m
		}(), IsInvalidType},
		{"provenance over-minted", func() Message {
			m := NewProvenanceMessage(ActionMint)
			m.TokenID = "t"
			m.Target = "a"
			m.Requested = 1
			m.Amount = 2
			return m
		}(), IsInvalidMessage},
		{"sync unknown action", func() Message {
			m := NewSynchronizationMessage(ActionWipe)
			m.Policy = "p"
			m.User = "u"
			return m
		}(), IsInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToWire(tt.msg)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestRevokedMessageCarriesHeaderOnly(t *testing.T) {
	vc := NewVCMessage(ActionCreateVC)
	vc.Issuer = "did:anchor:issuer"
	vc.Document = doc(t, `{"id":"1"}`)
	Revoke(vc, "issued in error", "Document Revoked", []string{"0.0.200-1"})

	w, err := ToWire(vc)
	require.NoError(t, err)
	assert.Empty(t, w.Blobs)
	assert.NotContains(t, string(w.JSON), "issuer")

	got, err := FromWire(w.JSON, nil, TypeVCDocument)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoke, got.Header().Status)
	assert.Equal(t, []string{"0.0.200-1"}, got.Header().ParentIDs)
}

func TestRevokedSynchronizationRoundTrips(t *testing.T) {
	sm := NewSynchronizationMessage(ActionMint)
	sm.Policy = "0.0.300"
	sm.PolicyOwner = "0.0.10"
	sm.User = "0.0.20"
	sm.Hash = "hash-a"
	sm.MessageID = "0.0.400-1"
	sm.TokenID = "0.0.500"
	Revoke(sm, "superseded", "Contribution Revoked", nil)

	w, err := ToWire(sm)
	require.NoError(t, err)
	assert.NotContains(t, string(w.JSON), "policyOwner")

	got, err := FromWire(w.JSON, nil, TypeSynchronization)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoke, got.Header().Status)
}

func TestSetLedgerRefWriteOnce(t *testing.T) {
	m := NewTokenMessage(ActionCreateToken)
	require.NoError(t, m.SetLedgerRef("0.0.1-1", "0.0.1", "0.0.2"))
	assert.Equal(t, "0.0.1-1", m.ID())
	assert.Equal(t, "0.0.1", m.TopicID())
	assert.Equal(t, "0.0.2", m.Payer())

	err := m.SetLedgerRef("0.0.1-2", "0.0.1", "0.0.2")
	require.ErrorIs(t, err, ErrImmutable)
	assert.Equal(t, "0.0.1-1", m.ID())
}

func TestHashIgnoresLedgerRef(t *testing.T) {
	m := NewTokenMessage(ActionCreateToken)
	m.TokenID = "0.0.5"
	before, err := Hash(m)
	require.NoError(t, err)

	require.NoError(t, m.SetLedgerRef("0.0.1-1", "0.0.1", "0.0.2"))
	after, err := Hash(m)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	m.TokenID = "0.0.6"
	changed, err := Hash(m)
	require.NoError(t, err)
	assert.NotEqual(t, before, changed)
}

func TestRegistryCoversEveryType(t *testing.T) {
	for _, typ := range []Type{
		TypeDIDDocument, TypePolicy, TypeInstancePolicy, TypeSchema, TypeSchemaPackage,
		TypeModule, TypeTag, TypeToken, TypeVCDocument, TypeEVCDocument, TypeVPDocument,
		TypeSynchronization, TypeTopic, TypeTokenProvenance,
	} {
		assert.True(t, Registered(typ), "type %s", typ)
	}
}

func TestGoldenWireForms(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	contribution := NewSynchronizationMessage(ActionMint)
	contribution.UUID = "0190a5e4-0000-7000-8000-000000000001"
	contribution.Policy = "0.0.100"
	contribution.PolicyOwner = "did:anchor:owner"
	contribution.User = "did:anchor:user"
	contribution.Hash = "8xQ3bVvR1cYp"
	contribution.MessageID = "0.0.200-4"
	contribution.TokenID = "0.0.300"
	contribution.Amount = 25
	contribution.Memo = "vp-memo"
	contribution.Target = "0.0.400"

	w, err := ToWire(contribution)
	require.NoError(t, err)
	g.Assert(t, "synchronization_mint", w.JSON)

	vc := NewVCMessage(ActionCreateVC)
	vc.UUID = "0190a5e4-0000-7000-8000-000000000002"
	vc.Issuer = "did:anchor:issuer"
	vc.DocumentStatus = "NEW"
	vc.Hash = "4Nf8"
	vc.Relationships = []string{"0.0.200-1"}
	vc.Document = doc(t, `{"id":"urn:uuid:7f0c","credentialSubject":[{"type":"MonitoringReport","field0":"value"}]}`)

	w, err = ToWire(vc)
	require.NoError(t, err)
	g.Assert(t, "vc_document", w.JSON)

	revoked := NewVCMessage(ActionCreateVC)
	revoked.UUID = "0190a5e4-0000-7000-8000-000000000003"
	Revoke(revoked, "issued in error", "Document Revoked", []string{"0.0.200-1"})

	w, err = ToWire(revoked)
	require.NoError(t, err)
	g.Assert(t, "vc_revoked", w.JSON)
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestUUIDv7GeneratorUnique(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gen.Generate()
		assert.Len(t, id, 36)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestPeekHeader(t *testing.T) {
	vc := NewVCMessage(ActionCreateVC)
	vc.Issuer = "did:anchor:issuer"
	vc.Document = doc(t, `{"id":"1"}`)
	w, err := ToWire(vc)
	require.NoError(t, err)

	h, err := PeekHeader(w.JSON)
	require.NoError(t, err)
	assert.Equal(t, TypeVCDocument, h.Type)
	assert.Equal(t, ActionCreateVC, h.Action)
	assert.Equal(t, CIDs(vc), h.References())

	Revoke(vc, "gone", "Document Revoked", nil)
	w, err = ToWire(vc)
	require.NoError(t, err)
	h, err = PeekHeader(w.JSON)
	require.NoError(t, err)
	assert.Empty(t, h.References())

	_, err = PeekHeader([]byte("{"))
	assert.True(t, IsInvalidMessage(err))
}
