package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfiguredAndUnconfigured(t *testing.T) {
	c := Configured("handle")
	h, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, "handle", h)
	assert.True(t, c.IsConfigured())

	u := Unconfigured[string]()
	h, ok = u.Get()
	assert.False(t, ok)
	assert.Empty(t, h)

	var zero Capability[int]
	assert.False(t, zero.IsConfigured())
}

func TestWhenOnlyBuildsIfPresent(t *testing.T) {
	built := 0
	build := func() int {
		built++
		return 7
	}

	assert.False(t, When(false, build).IsConfigured())
	assert.Equal(t, 0, built)

	c := When(true, build)
	v, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, built)
}
