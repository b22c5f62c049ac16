package util

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeFor(t *testing.T) {
	partial := NewCtlError(errors.New("2 files failed"), PartialSuccess)
	tests := []struct {
		name string
		err  error
		want ExitCode
	}{
		{name: "nil", err: nil, want: Success},
		{name: "plain error", err: errors.New("boom"), want: GeneralError},
		{name: "ctl error", err: partial, want: PartialSuccess},
		{name: "wrapped ctl error", err: fmt.Errorf("sync: %w", partial), want: PartialSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
		})
	}
	assert.Equal(t, "2 files failed", partial.Error())
}
