package mailerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantAuth bool
		wantKind GatewayKind
	}{
		{"login rejected", errors.New("failed to authenticate: NO LOGIN failed"), true, 0},
		{"net timeout", fmt.Errorf("fetch: %w", timeoutErr{}), false, GatewayTimeout},
		{"dial timeout text", errors.New("dial tcp 1.2.3.4:993: i/o timeout"), false, GatewayTimeout},
		{"broken pipe", errors.New("write: broken pipe"), false, GatewayConnection},
		{"eof", errors.New("unexpected EOF"), false, GatewayConnection},
		{"server said no", errors.New("NO [TRYCREATE] no such mailbox"), false, GatewayGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("move", tt.err)
			if tt.wantAuth {
				assert.True(t, IsAuthentication(got))
				return
			}
			var gwErr *GatewayError
			if assert.ErrorAs(t, got, &gwErr) {
				assert.Equal(t, tt.wantKind, gwErr.Kind)
				assert.Equal(t, "move", gwErr.Op)
			}
			assert.ErrorIs(t, got, tt.err)
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Classify("move", nil))
	})

	t.Run("already classified passes through", func(t *testing.T) {
		orig := &GatewayError{Op: "fetch", Kind: GatewayTimeout, Err: errors.New("x")}
		assert.Same(t, orig, Classify("move", orig))
		assert.ErrorIs(t, Classify("move", fmt.Errorf("wrap: %w", ErrNotFound)), ErrNotFound)
	})
}

func TestValidationError(t *testing.T) {
	err := Validation("name", "folder %q already exists", "Work")
	assert.True(t, IsValidation(err))
	assert.Equal(t, `name: folder "Work" already exists`, err.Error())
	assert.False(t, IsValidation(errors.New("plain")))
}
