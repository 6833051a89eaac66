package indexstore_test

import (
	"testing"

	"github.com/axiomme/axiomme/internal/indexstore"
	"github.com/stretchr/testify/assert"
)

func TestTokenizeIdentity(t *testing.T) {
	text := "Alpha-Beta_Gamma 123, Déjà-vu!"
	a := indexstore.Tokenize(text)
	b := indexstore.Tokenize(text)
	assert.Equal(t, a, b, "tokenize must be identical between index and query paths")
}

func TestTokenizeCaseFoldsAndSplits(t *testing.T) {
	tokens := indexstore.Tokenize("Hello, World! foo_bar")
	assert.Equal(t, []string{"hello", "world", "foo", "bar"}, tokens)
}

func TestTokenizeDropsEmpty(t *testing.T) {
	tokens := indexstore.Tokenize("   ,,,   ")
	assert.Empty(t, tokens)
}
