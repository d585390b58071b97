package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"rate limit wrapped", fmt.Errorf("send: %w", ErrRateLimitExceeded), KindRateLimit},
		{"invalid", Invalid("buy step must be positive"), KindInvalid},
		{"persistence", fmt.Errorf("save: %w", ErrPersistence), KindPersistence},
		{"startup", fmt.Errorf("load: %w", ErrStartup), KindStartup},
		{"transient", fmt.Errorf("rpc: %w", ErrTransientIO), KindTransientIO},
		{"plain", context.Canceled, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestInvalidKeepsOperatorMessage(t *testing.T) {
	err := Invalid("URL must start with https://")
	require.Equal(t, "URL must start with https://", err.Error())
	require.True(t, errors.Is(err, ErrInvalidInput))
}
