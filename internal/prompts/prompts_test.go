package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	t.Parallel()

	set, err := Load("")
	require.NoError(t, err)

	for _, name := range []string{Researcher, Writer, WritingGuide, Rewriter, ContentPlanner, CriticFormat,
		Critic("generic_detector"), Critic("rhythm_analyzer"), Critic("specificity_checker"), Critic("fact_checker")} {
		assert.NotEmpty(t, set.Get(name), "prompt %s", name)
	}
	assert.Empty(t, set.Get("missing"))
}

func TestLoadAppliesOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "critics"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "writer.md"), []byte("custom writer\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "critics", "fact_checker.md"), []byte("custom facts"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rewriter.md"), []byte("   "), 0o644))

	set, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "custom writer", set.Get(Writer))
	assert.Equal(t, "custom facts", set.Get(Critic("fact_checker")))
	assert.NotEqual(t, "", set.Get(Rewriter), "blank override keeps the default")
}
