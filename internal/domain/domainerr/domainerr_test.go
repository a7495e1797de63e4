package domainerr

import (
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	errClosed := New(KindConflict, "closed", "cart is closed")

	tests := []struct {
		name     string
		err      error
		wantKind Kind
		wantCode string
	}{
		{name: "sentinel", err: errClosed, wantKind: KindConflict, wantCode: "closed"},
		{name: "wrapped", err: fmt.Errorf("apply: %w", errClosed), wantKind: KindConflict, wantCode: "closed"},
		{name: "plain", err: errors.New("boom"), wantKind: KindUnknown},
		{name: "nil", err: nil, wantKind: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKind, KindOf(tt.err))
			assert.Equal(t, tt.wantCode, CodeOf(tt.err))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "exhausted", KindExhausted.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
