package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckOpsToken(t *testing.T) {
	hash, err := HashOpsToken("super-secret")
	require.NoError(t, err)

	assert.True(t, CheckOpsToken(hash, "super-secret"))
	assert.False(t, CheckOpsToken(hash, "wrong"))
	assert.False(t, CheckOpsToken(hash, ""))
	assert.False(t, CheckOpsToken("", "super-secret"))
}
