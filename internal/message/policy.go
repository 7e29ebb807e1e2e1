package message

// noDocuments is embedded by messages that carry no off-ledger blobs.
type noDocuments struct{}

func (noDocuments) Documents() ([][]byte, error) { return nil, nil }

func (noDocuments) LoadDocuments(blobs [][]byte) error { return nil }

// PolicyMessage announces a policy or a running policy instance. The policy
// archive is stored off-ledger.
type PolicyMessage struct {
	Envelope
	Name                   string `json:"name"`
	Description            string `json:"description,omitempty"`
	TopicDescription       string `json:"topicDescription,omitempty"`
	Version                string `json:"version,omitempty"`
	Owner                  string `json:"owner"`
	PolicyTag              string `json:"policyTag,omitempty"`
	PolicyTopicID          string `json:"topicId,omitempty"`
	InstanceTopicID        string `json:"instanceTopicId,omitempty"`
	SynchronizationTopicID string `json:"synchronizationTopicId,omitempty"`

	Archive []byte `json:"-"`
}

// NewPolicyMessage creates a Policy (or Instance-Policy) message.
func NewPolicyMessage(t Type, action Action) *PolicyMessage {
	return &PolicyMessage{Envelope: newEnvelope(t, action)}
}

func (m *PolicyMessage) Validate() error {
	if err := m.validateHeader(TypePolicy, TypeInstancePolicy); err != nil {
		return err
	}
	if !m.isIssued() {
		return nil
	}
	switch {
	case m.Name == "":
		return newInvalidMessageError(m.Type, "name", "name is required")
	case m.Owner == "":
		return newInvalidMessageError(m.Type, "owner", "owner is required")
	case len(m.Archive) == 0:
		return newEmptyPayloadError(m.Type, "archive")
	}
	return nil
}

func (m *PolicyMessage) Documents() ([][]byte, error) {
	if len(m.Archive) == 0 {
		return nil, newEmptyPayloadError(m.Type, "archive")
	}
	return [][]byte{m.Archive}, nil
}

func (m *PolicyMessage) LoadDocuments(blobs [][]byte) error {
	if err := requireBlobs(m.Type, blobs, 1); err != nil {
		return err
	}
	if len(blobs[0]) == 0 {
		return newEmptyPayloadError(m.Type, "archive")
	}
	m.Archive = blobs[0]
	return nil
}

// SchemaMessage publishes a credential schema (or a package of schemas).
// Two documents are stored off-ledger: the JSON schema and its context.
type SchemaMessage struct {
	Envelope
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Entity      string `json:"entity,omitempty"`
	Owner       string `json:"owner"`
	SchemaUUID  string `json:"uuid"`
	Version     string `json:"version"`
	CodeVersion string `json:"codeVersion,omitempty"`

	Document map[string]any `json:"-"`
	Context  map[string]any `json:"-"`
}

// NewSchemaMessage creates a Schema (or Schema-Package) message.
func NewSchemaMessage(t Type, action Action) *SchemaMessage {
	return &SchemaMessage{Envelope: newEnvelope(t, action)}
}

func (m *SchemaMessage) Validate() error {
	if err := m.validateHeader(TypeSchema, TypeSchemaPackage); err != nil {
		return err
	}
	if !m.isIssued() {
		return nil
	}
	switch {
	case m.Name == "":
		return newInvalidMessageError(m.Type, "name", "name is required")
	case m.SchemaUUID == "":
		return newInvalidMessageError(m.Type, "uuid", "uuid is required")
	case m.Document == nil:
		return newEmptyPayloadError(m.Type, "document")
	case m.Context == nil:
		return newEmptyPayloadError(m.Type, "context")
	}
	return nil
}

func (m *SchemaMessage) Documents() ([][]byte, error) {
	doc, err := encodeDocument(m.Type, "document", m.Document)
	if err != nil {
		return nil, err
	}
	ctx, err := encodeDocument(m.Type, "context", m.Context)
	if err != nil {
		return nil, err
	}
	return [][]byte{doc, ctx}, nil
}

func (m *SchemaMessage) LoadDocuments(blobs [][]byte) error {
	if err := requireBlobs(m.Type, blobs, 2); err != nil {
		return err
	}
	doc, err := decodeDocument(m.Type, "document", blobs[0])
	if err != nil {
		return err
	}
	ctx, err := decodeDocument(m.Type, "context", blobs[1])
	if err != nil {
		return err
	}
	m.Document = doc
	m.Context = ctx
	return nil
}

// ModuleMessage publishes a reusable policy module archive.
type ModuleMessage struct {
	Envelope
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Owner       string `json:"owner"`
	ModuleUUID  string `json:"uuid"`

	Archive []byte `json:"-"`
}

// NewModuleMessage creates a Module message.
func NewModuleMessage(action Action) *ModuleMessage {
	return &ModuleMessage{Envelope: newEnvelope(TypeModule, action)}
}

func (m *ModuleMessage) Validate() error {
	if err := m.validateHeader(TypeModule); err != nil {
		return err
	}
	if !m.isIssued() {
		return nil
	}
	if m.Name == "" {
		return newInvalidMessageError(m.Type, "name", "name is required")
	}
	if len(m.Archive) == 0 {
		return newEmptyPayloadError(m.Type, "archive")
	}
	return nil
}

func (m *ModuleMessage) Documents() ([][]byte, error) {
	if len(m.Archive) == 0 {
		return nil, newEmptyPayloadError(m.Type, "archive")
	}
	return [][]byte{m.Archive}, nil
}

func (m *ModuleMessage) LoadDocuments(blobs [][]byte) error {
	if err := requireBlobs(m.Type, blobs, 1); err != nil {
		return err
	}
	m.Archive = blobs[0]
	return nil
}

// TagMessage attaches a tag to another message. The tag document is optional.
type TagMessage struct {
	Envelope
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Owner       string `json:"owner"`
	Target      string `json:"target"`
	Operation   string `json:"operation,omitempty"`
	Entity      string `json:"entity,omitempty"`
	Date        string `json:"date,omitempty"`

	Document map[string]any `json:"-"`
}

// NewTagMessage creates a Tag message.
func NewTagMessage(action Action) *TagMessage {
	return &TagMessage{Envelope: newEnvelope(TypeTag, action)}
}

func (m *TagMessage) Validate() error {
	if err := m.validateHeader(TypeTag); err != nil {
		return err
	}
	if !m.isIssued() {
		return nil
	}
	if m.Name == "" {
		return newInvalidMessageError(m.Type, "name", "name is required")
	}
	if m.Target == "" {
		return newInvalidMessageError(m.Type, "target", "target is required")
	}
	return nil
}

func (m *TagMessage) Documents() ([][]byte, error) {
	if m.Document == nil {
		return nil, nil
	}
	doc, err := encodeDocument(m.Type, "document", m.Document)
	if err != nil {
		return nil, err
	}
	return [][]byte{doc}, nil
}

func (m *TagMessage) LoadDocuments(blobs [][]byte) error {
	if len(blobs) == 0 {
		return nil
	}
	doc, err := decodeDocument(m.Type, "document", blobs[0])
	if err != nil {
		return err
	}
	m.Document = doc
	return nil
}

// TokenMessage announces a token definition.
type TokenMessage struct {
	Envelope
	noDocuments
	TokenID     string `json:"tokenId"`
	TokenName   string `json:"tokenName"`
	TokenSymbol string `json:"tokenSymbol"`
	TokenType   string `json:"tokenType"`
	Decimals    int    `json:"decimals"`
	Owner       string `json:"owner"`
}

// NewTokenMessage creates a Token message.
func NewTokenMessage(action Action) *TokenMessage {
	return &TokenMessage{Envelope: newEnvelope(TypeToken, action)}
}

func (m *TokenMessage) Validate() error {
	if err := m.validateHeader(TypeToken); err != nil {
		return err
	}
	if !m.isIssued() {
		return nil
	}
	if m.TokenID == "" {
		return newInvalidMessageError(m.Type, "tokenId", "tokenId is required")
	}
	if m.Decimals < 0 {
		return newInvalidMessageError(m.Type, "decimals", "decimals must not be negative")
	}
	return nil
}

// TopicMessage announces a topic and its place in the topic tree.
type TopicMessage struct {
	Envelope
	noDocuments
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Owner       string `json:"owner"`
	MessageType string `json:"messageType,omitempty"`
	ChildID     string `json:"childId,omitempty"`
	ParentID    string `json:"parentId,omitempty"`
	Rationale   string `json:"rationale,omitempty"`
}

// NewTopicMessage creates a Topic message.
func NewTopicMessage(action Action) *TopicMessage {
	return &TopicMessage{Envelope: newEnvelope(TypeTopic, action)}
}

func (m *TopicMessage) Validate() error {
	if err := m.validateHeader(TypeTopic); err != nil {
		return err
	}
	if m.isIssued() && m.Name == "" {
		return newInvalidMessageError(m.Type, "name", "name is required")
	}
	return nil
}
