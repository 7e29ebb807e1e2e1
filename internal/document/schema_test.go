package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchema_UpdatableFlags(t *testing.T) {
	doc := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":   map[string]any{"type": "string", "isUpdatable": true},
			"issued": map[string]any{"type": "string"},
			"status": map[string]any{
				"type":     "string",
				"$comment": `{"term":"status","isUpdatable":true}`,
			},
			"note": map[string]any{"type": "string", "$comment": "not json"},
		},
	}

	s, err := ParseSchema("#Permit", doc)
	require.NoError(t, err)
	assert.Equal(t, "#Permit", s.IRI)
	assert.Equal(t, []string{"name", "status"}, s.UpdatablePaths())
}

func TestParseSchema_NestedRefsAndArrays(t *testing.T) {
	doc := map[string]any{
		"$defs": map[string]any{
			"#Address": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"city": map[string]any{"type": "string", "isUpdatable": true},
					"zip":  map[string]any{"type": "string"},
				},
			},
		},
		"properties": map[string]any{
			"address": map[string]any{"$ref": "#Address"},
			"sites": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"area": map[string]any{"type": "number", "isUpdatable": true},
					},
				},
			},
		},
	}

	s, err := ParseSchema("#Farm", doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"address.city", "sites.area"}, s.UpdatablePaths())

	sites := s.SearchFields(func(f Field) bool { return f.Name == "sites" })
	require.Len(t, sites, 1)
	assert.True(t, sites[0].Array)
	assert.Equal(t, "object", sites[0].Type)
}

func TestParseSchema_Errors(t *testing.T) {
	_, err := ParseSchema("#Empty", nil)
	assert.Error(t, err)

	_, err = ParseSchema("#Bad", map[string]any{
		"properties": map[string]any{"x": map[string]any{"$ref": "#Missing"}},
	})
	assert.ErrorContains(t, err, "#Missing")

	_, err = ParseSchema("#Scalar", map[string]any{
		"properties": map[string]any{"x": "string"},
	})
	assert.Error(t, err)
}

func TestParseSchema_CyclicRef(t *testing.T) {
	doc := map[string]any{
		"$defs": map[string]any{
			"#Node": map[string]any{
				"properties": map[string]any{
					"next": map[string]any{"$ref": "#Node"},
				},
			},
		},
		"properties": map[string]any{"root": map[string]any{"$ref": "#Node"}},
	}
	_, err := ParseSchema("#Node", doc)
	assert.ErrorContains(t, err, "nesting")
}
