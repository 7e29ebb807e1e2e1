package mint

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func credential(subject map[string]any) map[string]any {
	return map[string]any{"id": "urn:uuid:x", "credentialSubject": []any{subject}}
}

func TestAggregate_Rules(t *testing.T) {
	docs := []map[string]any{
		credential(map[string]any{"area": json.Number("2")}),
		credential(map[string]any{"area": json.Number("5")}),
		credential(map[string]any{"area": json.Number("2")}),
		credential(map[string]any{"area": json.Number("1.5")}),
	}

	tests := []struct {
		rule Rule
		want float64
	}{
		{Rule{Kind: RuleSum, Expr: "area"}, 10.5},
		{Rule{Kind: "", Expr: "area"}, 10.5},
		{Rule{Kind: RuleMode, Expr: "area"}, 2},
		{Rule{Kind: RuleMin, Expr: "area"}, 1.5},
		{Rule{Kind: RuleMax, Expr: "area"}, 5},
		{Rule{Kind: RuleSum, Expr: "area * 2"}, 21},
		{Rule{Kind: RuleSum, Expr: "$.area"}, 10.5},
	}
	for _, tt := range tests {
		t.Run(string(tt.rule.Kind)+" "+tt.rule.Expr, func(t *testing.T) {
			got, err := Aggregate(context.Background(), tt.rule, docs)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestAggregate_ModeTieGoesToFirst(t *testing.T) {
	docs := []map[string]any{
		credential(map[string]any{"v": 3.0}),
		credential(map[string]any{"v": 7.0}),
		credential(map[string]any{"v": 7.0}),
		credential(map[string]any{"v": 3.0}),
	}
	got, err := Aggregate(context.Background(), Rule{Kind: RuleMode, Expr: "v"}, docs)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)
}

func TestAggregate_PlainSubjectAndStrings(t *testing.T) {
	docs := []map[string]any{
		{"credentialSubject": map[string]any{"qty": "4"}},
	}
	got, err := Aggregate(context.Background(), Rule{Kind: RuleSum, Expr: "qty"}, docs)
	require.NoError(t, err)
	assert.Equal(t, 4.0, got)
}

func TestAggregate_Errors(t *testing.T) {
	docs := []map[string]any{credential(map[string]any{"area": -3.0, "name": "x"})}
	ctx := context.Background()

	_, err := Aggregate(ctx, Rule{Kind: RuleSum, Expr: "area"}, docs)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Aggregate(ctx, Rule{Kind: RuleSum, Expr: "name"}, docs)
	assert.Error(t, err)

	_, err = Aggregate(ctx, Rule{Kind: "median", Expr: "area"}, docs)
	assert.ErrorContains(t, err, "median")

	_, err = Aggregate(ctx, Rule{Kind: RuleSum}, docs)
	assert.Error(t, err)

	_, err = Aggregate(ctx, Rule{Kind: RuleSum, Expr: "area +"}, docs)
	assert.Error(t, err)
}

func TestAggregate_NoDocuments(t *testing.T) {
	got, err := Aggregate(context.Background(), Rule{Kind: RuleSum, Expr: "x"}, nil)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestTokenAmount(t *testing.T) {
	tests := []struct {
		decimals int
		amount   float64
		units    int64
		display  string
	}{
		{0, 100, 100, "100"},
		{2, 3.75, 375, "3.75"},
		{2, 1.005, 100, "1.00"}, // 1.005 is 1.00499... in binary
		{3, 0.0005, 1, "0.001"},
		{0, 2.5, 3, "3"},
		{-1, 7, 7, "7"},
	}
	for _, tt := range tests {
		units, display := TokenAmount(tt.decimals, tt.amount)
		assert.Equal(t, tt.units, units, "units for %v/%d", tt.amount, tt.decimals)
		assert.Equal(t, tt.display, display, "display for %v/%d", tt.amount, tt.decimals)
	}
}

func TestChunkSizes(t *testing.T) {
	assert.Equal(t, []int{10, 10, 5}, ChunkSizes(25, 10))
	assert.Nil(t, ChunkSizes(0, 10))
	assert.Equal(t, []int{10}, ChunkSizes(10, 0))

	for n := int64(1); n <= 120; n++ {
		for c := 1; c <= 12; c++ {
			sizes := ChunkSizes(n, c)
			assert.Len(t, sizes, int((n+int64(c)-1)/int64(c)), "n=%d c=%d", n, c)
			var sum int64
			for _, s := range sizes {
				assert.LessOrEqual(t, s, c)
				sum += int64(s)
			}
			assert.Equal(t, n, sum, "n=%d c=%d", n, c)
		}
	}
}

func TestCredentialHash_IgnoresInstanceFields(t *testing.T) {
	a := []map[string]any{credential(map[string]any{"id": "1", "policyId": "p1", "ref": "r", "area": 2.0})}
	b := []map[string]any{credential(map[string]any{"id": "2", "policyId": "p2", "area": 2.0})}
	c := []map[string]any{credential(map[string]any{"id": "1", "area": 3.0})}

	ha, err := CredentialHash(a)
	require.NoError(t, err)
	hb, err := CredentialHash(b)
	require.NoError(t, err)
	hc, err := CredentialHash(c)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.NotEqual(t, ha, hc)
}
