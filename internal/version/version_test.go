package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "laserloc dev (git unknown, built unknown)", String("laserloc"))
}
