package message

// registry maps each wire type to a constructor for its concrete message.
var registry = map[Type]func() Message{
	TypeDIDDocument:     func() Message { return &DIDMessage{} },
	TypePolicy:          func() Message { return &PolicyMessage{} },
	TypeInstancePolicy:  func() Message { return &PolicyMessage{} },
	TypeSchema:          func() Message { return &SchemaMessage{} },
	TypeSchemaPackage:   func() Message { return &SchemaMessage{} },
	TypeModule:          func() Message { return &ModuleMessage{} },
	TypeTag:             func() Message { return &TagMessage{} },
	TypeToken:           func() Message { return &TokenMessage{} },
	TypeVCDocument:      func() Message { return &VCMessage{} },
	TypeEVCDocument:     func() Message { return &VCMessage{} },
	TypeVPDocument:      func() Message { return &VPMessage{} },
	TypeSynchronization: func() Message { return &SynchronizationMessage{} },
	TypeTopic:           func() Message { return &TopicMessage{} },
	TypeTokenProvenance: func() Message { return &ProvenanceMessage{} },
}

// Registered reports whether t has a constructor.
func Registered(t Type) bool {
	_, ok := registry[t]
	return ok
}
