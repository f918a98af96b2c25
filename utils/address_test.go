package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "user@example.com", "user@example.com"},
		{"uppercase", "User@Example.COM", "user@example.com"},
		{"whitespace", "  user@example.com  ", "user@example.com"},
		{"angle brackets", "<user@example.com>", "user@example.com"},
		{"display name", "User Name <user@example.com>", "user@example.com"},
		{"quoted display name", `"Name, User" <User@example.com>`, "user@example.com"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeAddress(tt.input))
		})
	}
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress("user@example.com", "User@EXAMPLE.com"))
	assert.True(t, SameAddress("Sender <user@example.com>", "user@example.com"))
	assert.False(t, SameAddress("user@example.com", "other@example.com"))
	assert.False(t, SameAddress("", "user@example.com"))
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "example.com", ExtractDomain("user@example.com"))
	assert.Equal(t, "example.com", ExtractDomain("Name <user@example.com>"))
	assert.Equal(t, "not-an-address", ExtractDomain("not-an-address"))
}
