package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageKeysShareHashTag(t *testing.T) {
	assert.Equal(t, "page:{12}", buildPageKey(12))
	assert.Equal(t, "page:{12}:data", buildPageDataKey(12))
	assert.Equal(t, "page:{12}:complete", buildPageCompleteKey(12))
}
