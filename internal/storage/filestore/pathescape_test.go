package filestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeUnescapeRoundTrip(t *testing.T) {
	cases := []string{
		"a",
		"a/b",
		"a/b/c",
		"has_underscore",
		"has_underscore/and/slash",
		"__leading",
		"trailing__",
	}
	for _, p := range cases {
		escaped := escapePath(p)
		assert.NotContains(t, escaped, "/")
		assert.Equal(t, p, unescapePath(escaped))
	}
}

func TestEscapeDistinguishesSlashFromUnderscore(t *testing.T) {
	assert.NotEqual(t, escapePath("a/b"), escapePath("a_b"))
}
