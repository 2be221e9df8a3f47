package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("s3creto")
	require.NoError(t, err)
	assert.NotEqual(t, "s3creto", h)
	assert.True(t, CheckPasswordHash("s3creto", h))
	assert.False(t, CheckPasswordHash("otro", h))
}
