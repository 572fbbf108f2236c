package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtectionSet_ReplaceIsWholesale(t *testing.T) {
	s := NewProtectionSet()
	s.Replace([]string{"a", "b"})
	s.Replace([]string{"c"})

	assert.False(t, s.Has("a"))
	assert.False(t, s.Has("b"))
	assert.True(t, s.Has("c"))
	assert.Equal(t, []string{"c"}, s.IDs())
}

func TestProtectionSet_CurrentIsProtected(t *testing.T) {
	s := NewProtectionSet()
	s.SetCurrent("x")
	s.Replace([]string{"y", "x", ""})

	assert.True(t, s.Has("x"))
	assert.True(t, s.Has("y"))
	assert.False(t, s.Has(""))
	assert.Equal(t, "x", s.Current())
	assert.Equal(t, []string{"x", "y"}, s.IDs())

	s.SetCurrent("")
	assert.True(t, s.Has("x"), "x is still a neighbour")

	s.Clear()
	assert.False(t, s.Has("x"))
	assert.Empty(t, s.Current())
}
