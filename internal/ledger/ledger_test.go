package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatParseID(t *testing.T) {
	id := FormatID("0.0.4510", 17)
	assert.Equal(t, "0.0.4510-17", id)

	topic, seq, err := ParseID(id)
	require.NoError(t, err)
	assert.Equal(t, "0.0.4510", topic)
	assert.Equal(t, int64(17), seq)
}

func TestParseIDTopicWithDashes(t *testing.T) {
	topic, seq, err := ParseID(FormatID("anchor-sync-topic", 3))
	require.NoError(t, err)
	assert.Equal(t, "anchor-sync-topic", topic)
	assert.Equal(t, int64(3), seq)
}

func TestParseIDMalformed(t *testing.T) {
	for _, id := range []string{"", "nodash", "-5", "topic-", "topic-x", "topic-0"} {
		_, _, err := ParseID(id)
		assert.Error(t, err, "id %q", id)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", NewError("mint", ErrCodeTimeout, nil), true},
		{"busy wrapped", fmt.Errorf("chunk 2: %w", NewError("mint", ErrCodeBusy, nil)), true},
		{"rate limited", NewError("submit", ErrCodeRateLimited, nil), true},
		{"insufficient balance", NewError("transfer", ErrCodeInsufficientBalance, nil), false},
		{"invalid signature", NewError("wipe", ErrCodeInvalidSignature, nil), false},
		{"foreign error", errors.New("boom"), false},
		{"context canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestErrorMessageAndCode(t *testing.T) {
	cause := errors.New("deadline")
	err := fmt.Errorf("mint chunk: %w", NewError("mint", ErrCodeTimeout, cause))

	assert.Equal(t, ErrCodeTimeout, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "ledger mint: TIMEOUT: deadline")
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("x")))
}
