package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCache_FirstNonEmptyWins(t *testing.T) {
	c := New()

	assert.False(t, c.Offer(nil))
	assert.False(t, c.Offer([]string{}))
	assert.True(t, c.Offer([]string{"temp", "hr"}))
	assert.False(t, c.Offer([]string{"spo2"}))

	assert.Equal(t, []string{"temp", "hr"}, c.Types())
}

func TestCache_Reset(t *testing.T) {
	c := New()
	c.Offer([]string{"temp"})

	c.Reset()
	assert.Empty(t, c.Types())

	assert.True(t, c.Offer([]string{"spo2"}))
	assert.Equal(t, []string{"spo2"}, c.Types())
}

func TestCache_TypesIsCopy(t *testing.T) {
	c := New()
	in := []string{"temp"}
	c.Offer(in)
	in[0] = "changed"

	out := c.Types()
	out[0] = "changed too"

	assert.Equal(t, []string{"temp"}, c.Types())
}
