package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateGeneratorOutbound(t *testing.T) {
	tg := NewTemplateGenerator()

	gen, err := tg.Outbound("Alice Sender", "Bob Lead", "alice@warm.example")
	require.NoError(t, err)

	assert.NotEmpty(t, gen.Subject)
	assert.Contains(t, gen.Body, "Bob Lead")
	assert.Contains(t, gen.Body, "Alice Sender")
}

func TestTemplateGeneratorOutboundRequiresNames(t *testing.T) {
	tg := NewTemplateGenerator()

	_, err := tg.Outbound("", "Bob", "alice@warm.example")
	assert.Error(t, err)

	_, err = tg.Outbound("Alice", "", "alice@warm.example")
	assert.Error(t, err)
}

func TestTemplateGeneratorReplySubject(t *testing.T) {
	tg := NewTemplateGenerator()

	gen, err := tg.Reply("Bob Lead", "Alice Sender", "Quick question", "original body")
	require.NoError(t, err)
	assert.Equal(t, "Re: Quick question", gen.Subject)
	assert.Contains(t, gen.Body, "Bob Lead")

	// An already-threaded subject is not prefixed again
	gen, err = tg.Reply("Bob Lead", "Alice Sender", "RE: Quick question", "original body")
	require.NoError(t, err)
	assert.Equal(t, "RE: Quick question", gen.Subject)
}

func TestTemplateGeneratorVariesOutput(t *testing.T) {
	tg := NewTemplateGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		gen, err := tg.Outbound("Alice", "Bob", "alice@warm.example")
		require.NoError(t, err)
		seen[gen.Subject+"|"+gen.Body] = true
	}
	assert.Greater(t, len(seen), 1, "expected rotation over subject and body pools")
}

func TestNewMessageID(t *testing.T) {
	mid := NewMessageID("alice@warm.example")

	assert.True(t, strings.HasPrefix(mid, "<"))
	assert.True(t, strings.HasSuffix(mid, "@warm.example>"))
	assert.NotEqual(t, mid, NewMessageID("alice@warm.example"))
}
