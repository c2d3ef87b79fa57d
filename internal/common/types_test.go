package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKinds(t *testing.T) {
	assert.Equal(t, []Kind{"ip-dst", "sha256"}, ParseKinds(" ip-dst, ,sha256 "))
	assert.Nil(t, ParseKinds(""))
}

func TestKindSet(t *testing.T) {
	set := NewKindSet(DefaultKinds)
	assert.True(t, set.Has(KindHostname))
	assert.False(t, set.Has("url"))
}
