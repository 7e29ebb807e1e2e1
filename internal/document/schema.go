package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Field is one property of a credential schema.
type Field struct {
	Name      string
	Path      string // dot-separated path from the credential subject
	Type      string
	Updatable bool
	Array     bool
	Fields    []Field // sub-fields of object-valued properties
}

// Schema is the parsed form of a credential schema document.
type Schema struct {
	IRI    string
	Fields []Field
}

// maxSchemaDepth bounds $ref resolution so a cyclic schema cannot recurse forever.
const maxSchemaDepth = 16

// ParseSchema reads the properties of a JSON-schema document. A property
// is updatable when it carries "isUpdatable": true, either directly or in
// the JSON object stored in its "$comment". Object-valued properties are
// resolved through "$ref" into "$defs" or read from inline "properties";
// arrays descend into "items".
func ParseSchema(iri string, doc map[string]any) (Schema, error) {
	if doc == nil {
		return Schema{}, errors.New("empty schema document")
	}
	defs, _ := doc["$defs"].(map[string]any)
	fields, err := parseProperties(doc, defs, "", 0)
	if err != nil {
		return Schema{}, err
	}
	return Schema{IRI: iri, Fields: fields}, nil
}

func parseProperties(node, defs map[string]any, prefix string, depth int) ([]Field, error) {
	if depth > maxSchemaDepth {
		return nil, fmt.Errorf("schema nesting exceeds %d levels at %q", maxSchemaDepth, prefix)
	}
	props, _ := node["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]Field, 0, len(names))
	for _, name := range names {
		prop, ok := props[name].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("property %q is not an object", name)
		}
		f := Field{Name: name, Path: joinPath(prefix, name)}
		f.Updatable = isUpdatable(prop)

		body := prop
		if t, _ := prop["type"].(string); t == "array" {
			f.Array = true
			if items, ok := prop["items"].(map[string]any); ok {
				body = items
			}
		}
		f.Type, _ = body["type"].(string)

		sub, err := resolveObject(body, defs)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", f.Path, err)
		}
		if sub != nil {
			if f.Fields, err = parseProperties(sub, defs, f.Path, depth+1); err != nil {
				return nil, err
			}
			if f.Type == "" {
				f.Type = "object"
			}
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// resolveObject returns the schema node holding the sub-properties of an
// object-valued property, or nil for scalars.
func resolveObject(body, defs map[string]any) (map[string]any, error) {
	if ref, ok := body["$ref"].(string); ok {
		def, ok := defs[ref].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unresolved $ref %q", ref)
		}
		return def, nil
	}
	if _, ok := body["properties"].(map[string]any); ok {
		return body, nil
	}
	return nil, nil
}

func isUpdatable(prop map[string]any) bool {
	if v, ok := prop["isUpdatable"].(bool); ok {
		return v
	}
	comment, ok := prop["$comment"].(string)
	if !ok || comment == "" {
		return false
	}
	var meta struct {
		IsUpdatable bool `json:"isUpdatable"`
	}
	if err := json.Unmarshal([]byte(comment), &meta); err != nil {
		return false
	}
	return meta.IsUpdatable
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// SearchFields returns every field, at any depth, for which match is true.
// Parents are visited before their children.
func (s Schema) SearchFields(match func(Field) bool) []Field {
	var out []Field
	var visit func([]Field)
	visit = func(fields []Field) {
		for _, f := range fields {
			if match(f) {
				out = append(out, f)
			}
			visit(f.Fields)
		}
	}
	visit(s.Fields)
	return out
}

// UpdatablePaths returns the paths of the fields marked updatable.
func (s Schema) UpdatablePaths() []string {
	fields := s.SearchFields(func(f Field) bool { return f.Updatable })
	paths := make([]string, 0, len(fields))
	for _, f := range fields {
		paths = append(paths, f.Path)
	}
	return paths
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}
