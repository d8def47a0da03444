package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Château de Versailles", "chateau de versailles"},
		{"  Alcázar   de Segovia ", "alcazar de segovia"},
		{"Schloß Schönbrunn", "schloß schonbrunn"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Fold(tt.in), tt.in)
	}
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"museo", "del", "prado", "madrid"}, Words("Museo del Prado (Madrid)"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "äö...", Truncate("äöü", 2))
	assert.Equal(t, "abc", Truncate("abc", 0))
}
