package healthtypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvailablePathsFrom(t *testing.T) {
	cases := []struct {
		mcpEnabled, restEnabled, mcpOK, restOK bool
		want                                   []string
	}{
		{true, true, true, true, []string{"both"}},
		{true, true, true, false, []string{"mcp"}},
		{true, true, false, true, []string{"rest"}},
		{true, true, false, false, []string{"none"}},
		{false, true, false, true, []string{"rest"}},
		{true, false, true, false, []string{"mcp"}},
	}
	for _, c := range cases {
		got := AvailablePathsFrom(c.mcpEnabled, c.restEnabled, c.mcpOK, c.restOK)
		assert.Equal(t, c.want, got)
	}
}

func TestErrorKind_Retryable(t *testing.T) {
	retryable := []ErrorKind{ErrTransport, ErrTimeout, ErrHTTPServer, ErrParse}
	for _, k := range retryable {
		assert.True(t, k.Retryable(), "%s should be retryable", k)
	}
	notRetryable := []ErrorKind{ErrHTTPClient, ErrAuth, ErrValidation, ErrMCPProtocol, ErrCancelled, ErrConfig}
	for _, k := range notRetryable {
		assert.False(t, k.Retryable(), "%s should not be retryable", k)
	}
}
