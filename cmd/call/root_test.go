package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"navigate", `{"url":"https://example.com","wait":true}`})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"url": "https://example.com", "wait": true}, params)

	params, err = parseParams([]string{"ping"})
	require.NoError(t, err)
	assert.Nil(t, params)

	_, err = parseParams([]string{"navigate", `{url}`})
	assert.Error(t, err)
}
