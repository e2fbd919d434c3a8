package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeySetNoDuplicates(t *testing.T) {
	s := NewKeySet(false)

	assert.True(t, s.Add("Instagram"), "first Add should return true")
	assert.False(t, s.Add("Instagram"), "second Add of same key should return false")
	assert.False(t, s.Add("  Instagram "), "surrounding whitespace should not make a new key")
	assert.True(t, s.Add("instagram"), "case differs without folding")
	assert.Equal(t, 2, s.Len())
}

func TestKeySetFoldKeepsFirstSpelling(t *testing.T) {
	s := NewKeySet(true)
	s.Add("Subway Surfers")
	s.Add("subway   surfers")
	s.Add("YouTube")

	assert.True(t, s.Contains("SUBWAY SURFERS"))
	assert.Equal(t, []string{"Subway Surfers", "YouTube"}, s.Values())
}

func TestNormaliseText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  a  b ", "a b"},
		{"\tTiny\nApp", "Tiny App"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormaliseText(tt.in), "NormaliseText(%q)", tt.in)
	}
}
