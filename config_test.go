package askdoc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Vector.Type)
	assert.Equal(t, "mock", cfg.Embedding.Type)
	assert.Equal(t, 500, cfg.Chunking.ChunkSize)
	assert.Equal(t, int64(50<<20), cfg.Document.MaxFileSize)
}

func TestAllowedTypeSet(t *testing.T) {
	c := DocumentConfig{AllowedTypes: "pdf, MD ,markdown,txt,"}
	set := c.AllowedTypeSet()
	assert.True(t, set["pdf"])
	assert.True(t, set["md"])
	assert.True(t, set["markdown"])
	assert.True(t, set["txt"])
	assert.False(t, set[""])
	assert.False(t, set["docx"])
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"chunking": {"chunk_size": 800, "chunk_overlap": 80},
		"rag": {"top_k": 8}
	}`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.Chunking.ChunkSize)
	assert.Equal(t, 80, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 8, cfg.RAG.TopK)
	// Untouched sections keep their defaults.
	assert.Equal(t, "mock", cfg.Embedding.Type)
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"vector:\n  type: sqlitevec\n  sqlitevec:\n    dimension: 512\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlitevec", cfg.Vector.Type)
	assert.Equal(t, 512, cfg.Vector.SQLiteVec.Dimension)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Chunking.ChunkOverlap = cfg.Chunking.ChunkSize
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))

	cfg = DefaultConfig()
	cfg.Vector.Type = "milvus"
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))

	cfg = DefaultConfig()
	cfg.Document.MaxFileSize = 0
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
