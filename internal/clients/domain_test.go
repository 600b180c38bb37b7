package clients

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeTaxID(t *testing.T) {
	cases := map[string]string{
		"30-12345678-9": "30123456789",
		"30 12345678 9": "30123456789",
		"30123456789":   "30123456789",
		"cuit: 20-1-2":  "2012",
		"sin datos":     "",
		"":              "",
	}
	for input, want := range cases {
		require.Equal(t, want, NormalizeTaxID(input), "input %q", input)
	}
}

func TestFoldName(t *testing.T) {
	require.Equal(t, "agroquimica del sur", foldName("Agroquímica del Sur"))
	require.Equal(t, "nunez e hijos", foldName("  Núñez e Hijos "))
	require.Equal(t, "", foldName(""))
}
