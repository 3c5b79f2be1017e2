package working

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultExtractor(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		entities []ExtractedEntity
		files    []string
	}{
		{
			name: "file paths by extension",
			text: "edit internal/store/db.go and config.yaml please",
			entities: []ExtractedEntity{
				{Kind: EntityFile, Name: "internal/store/db.go"},
				{Kind: EntityFile, Name: "config.yaml"},
			},
			files: []string{"internal/store/db.go", "config.yaml"},
		},
		{
			name: "call-shaped symbols",
			text: "ApplyDecay() calls store.Tx() internally",
			entities: []ExtractedEntity{
				{Kind: EntitySymbol, Name: "ApplyDecay"},
				{Kind: EntitySymbol, Name: "store.Tx"},
			},
		},
		{
			name: "backticked identifier is a symbol",
			text: "set `RetentionCap` to 20",
			entities: []ExtractedEntity{
				{Kind: EntitySymbol, Name: "RetentionCap"},
			},
		},
		{
			name: "backticked path is a file",
			text: "see `cmd/main.go`",
			entities: []ExtractedEntity{
				{Kind: EntityFile, Name: "cmd/main.go"},
			},
			files: []string{"cmd/main.go"},
		},
		{
			name: "quoted multi-word phrase is a concept",
			text: `we call this the "eviction policy"`,
			entities: []ExtractedEntity{
				{Kind: EntityConcept, Name: "eviction policy"},
			},
		},
		{
			name: "quoted single word is not a concept",
			text: `just "word"`,
		},
		{
			name: "duplicates collapse",
			text: "main.go and main.go again",
			entities: []ExtractedEntity{
				{Kind: EntityFile, Name: "main.go"},
			},
			files: []string{"main.go"},
		},
		{
			name: "plain prose yields nothing",
			text: "let us talk about the weather",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := DefaultExtractor(tt.text)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.entities, ex.Entities)
			assert.ElementsMatch(t, tt.files, ex.Files)
		})
	}
}

func TestDefaultExtractorBoundsOutput(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("file")
		b.WriteByte(byte('a' + i%26))
		b.WriteString(".go fileb")
		b.WriteByte(byte('a' + i%26))
		b.WriteString(".go ")
	}

	ex, err := DefaultExtractor(b.String())
	require.NoError(t, err)
	assert.LessOrEqual(t, len(ex.Entities), maxEntitiesPerTurn)
}

func TestValidateExtraction(t *testing.T) {
	assert.NoError(t, validateExtraction(Extraction{
		Entities: []ExtractedEntity{{Kind: EntityFile, Name: "a.go"}},
	}))
	assert.Error(t, validateExtraction(Extraction{
		Entities: []ExtractedEntity{{Kind: "bogus", Name: "a.go"}},
	}))
	assert.Error(t, validateExtraction(Extraction{
		Entities: []ExtractedEntity{{Kind: EntityFile, Name: ""}},
	}))
}
