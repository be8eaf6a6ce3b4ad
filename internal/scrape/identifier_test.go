package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrichment-cli/internal/apperr"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		locale  Locale
		id      string
		ok      bool
		canon   string
		compact string
	}{
		{LocaleFI, "1234567-8", true, "1234567-8", "12345678"},
		{LocaleFI, " 1234567-8 ", true, "1234567-8", "12345678"},
		{LocaleFI, "12345678", false, "", ""},
		{LocaleFI, "123456-78", false, "", ""},
		{LocaleFI, "1234567-8; DROP", false, "", ""},
		{LocaleSE, "5566778899", true, "556677-8899", "5566778899"},
		{LocaleSE, "556677-8899", true, "556677-8899", "5566778899"},
		{LocaleSE, "556677889", false, "", ""},
		{LocaleSE, "1234567-8", false, "", ""},
		{Locale("no"), "123456789", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.locale)+"/"+tt.id, func(t *testing.T) {
			got, err := ValidateIdentifier(tt.locale, tt.id)
			if !tt.ok {
				require.Error(t, err)
				assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.canon, got.Canonical)
			assert.Equal(t, tt.compact, got.Compact)
		})
	}
}

func TestInferLocale(t *testing.T) {
	l, ok := InferLocale("1234567-8")
	assert.True(t, ok)
	assert.Equal(t, LocaleFI, l)

	l, ok = InferLocale("5566778899")
	assert.True(t, ok)
	assert.Equal(t, LocaleSE, l)

	_, ok = InferLocale("abc")
	assert.False(t, ok)
}

func TestParseLocale(t *testing.T) {
	l, ok := ParseLocale(" SE ")
	assert.True(t, ok)
	assert.Equal(t, LocaleSE, l)
	_, ok = ParseLocale("dk")
	assert.False(t, ok)
}
