package util

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateParameters(t *testing.T) {
	schema := ObjectSchema(map[string]any{
		"name":  StringProperty("A name"),
		"count": map[string]any{"type": "integer"},
	}, "name")

	assert.NoError(t, ValidateParameters(map[string]any{"name": "x"}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"name": "x", "count": 3}, schema))
	// JSON-decoded numbers arrive as float64.
	assert.NoError(t, ValidateParameters(map[string]any{"name": "x", "count": float64(3)}, schema))
	// Extra fields are permitted.
	assert.NoError(t, ValidateParameters(map[string]any{"name": "x", "extra": true}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	require.Error(t, err)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "name", vErr.Field)

	err = ValidateParameters(map[string]any{"name": 5}, schema)
	require.Error(t, err)

	err = ValidateParameters(map[string]any{"name": "x", "count": 1.5}, schema)
	require.Error(t, err)
}

func TestValidateParametersRequiredAsAnySlice(t *testing.T) {
	// Schemas that round-tripped through JSON carry []any required lists.
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"x": map[string]any{"type": "string"}},
		"required":   []any{"x"},
	}
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"x": "ok"}, schema))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 100))
	assert.Equal(t, "unbounded", Truncate("unbounded", 0))

	long := strings.Repeat("a", 50)
	out := Truncate(long, 10)
	assert.True(t, strings.HasPrefix(out, strings.Repeat("a", 10)))
	assert.True(t, strings.HasSuffix(out, "[output truncated]"))
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	// A cut landing mid-rune backs up to the previous boundary.
	out := Truncate("abécd", 3) // é is two bytes, so byte 3 splits it
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasPrefix(out, "ab"))
	assert.NotContains(t, out, "é")

	// A cut on a boundary keeps the whole rune.
	out = Truncate("abécd", 4)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasPrefix(out, "abé"))
}
