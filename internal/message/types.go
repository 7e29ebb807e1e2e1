// Package message implements the ledger message codec: typed envelopes for
// every domain event, their canonical JSON wire form, and the off-ledger
// document blobs they reference by content identifier.
//
// Decoding dispatches on the wire "type" field through a registry that maps
// each Type to a constructor, so adding a message kind is one table entry.
package message

// Type identifies the concrete message kind on the wire.
type Type string

const (
	TypeDIDDocument     Type = "DID-Document"
	TypePolicy          Type = "Policy"
	TypeInstancePolicy  Type = "Instance-Policy"
	TypeSchema          Type = "Schema"
	TypeSchemaPackage   Type = "Schema-Package"
	TypeModule          Type = "Module"
	TypeTag             Type = "Tag"
	TypeToken           Type = "Token"
	TypeVCDocument      Type = "VC-Document"
	TypeEVCDocument     Type = "EVC-Document"
	TypeVPDocument      Type = "VP-Document"
	TypeSynchronization Type = "Synchronization-Event"
	TypeTopic           Type = "Topic"
	TypeTokenProvenance Type = "Token-Provenance"
)

// Action is the type-specific verb carried by a message.
type Action string

const (
	ActionCreateDID         Action = "create-did-document"
	ActionCreateVC          Action = "create-vc-document"
	ActionCreateVP          Action = "create-vp-document"
	ActionCreatePolicy      Action = "create-policy"
	ActionPublishPolicy     Action = "publish-policy"
	ActionCreateInstance    Action = "create-instance-policy"
	ActionCreateSchema      Action = "create-schema"
	ActionPublishSchema     Action = "publish-schema"
	ActionPublishSchemas    Action = "publish-schemas"
	ActionPublishModule     Action = "publish-module"
	ActionPublishTag        Action = "publish-tag"
	ActionDeleteTag         Action = "delete-tag"
	ActionCreateToken       Action = "create-token"
	ActionCreateTopic       Action = "create-topic"
	ActionCreateMultiPolicy Action = "create-multi-policy"
	ActionMint              Action = "mint"
	ActionWipe              Action = "wipe"
	ActionRevokeDocument    Action = "revoke-document"
	ActionDeleteDocument    Action = "delete-document"
)

// Status is the lifecycle state announced by a message.
type Status string

const (
	StatusIssue    Status = "ISSUE"
	StatusRevoke   Status = "REVOKE"
	StatusDeleted  Status = "DELETED"
	StatusWithdraw Status = "WITHDRAW"
)

// DefaultLang is used when a message does not name a language.
const DefaultLang = "en-US"
