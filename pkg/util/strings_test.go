package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "x", FirstNonEmpty("", "  ", "x", "y"))
	assert.Equal(t, "", FirstNonEmpty())
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.99, Round(0.98765, 2))
	assert.Equal(t, 1.5, Round(1.4999, 2))
	assert.Equal(t, 0.0, Round(1.0/zero(), 2))
}

func zero() float64 { return 0 }

func TestComposeLANURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8080", ComposeLANURL("127.0.0.1:8080"))
	assert.Equal(t, "http://[::1]:9000", ComposeLANURL("[::1]:9000"))
	assert.Equal(t, "http://localhost", ComposeLANURL("localhost"))

	url := ComposeLANURL("0.0.0.0:8080")
	assert.True(t, strings.HasPrefix(url, "http://"), url)
	assert.True(t, strings.HasSuffix(url, ":8080"), url)
	assert.NotContains(t, url, "0.0.0.0")
}
