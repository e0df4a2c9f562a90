package dict

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleSource = `#include <string.h>

static const char *magic = "<?xml";

int detect(const char *buf, size_t len) {
	if (strncmp(buf, "<!DOCTYPE", 9) == 0) return 1;
	if (strncmp(buf, "<?xml", 5) == 0) return 2;
	if (strcmp(buf, "x") == 0) return 3; /* too short for a token */
	return 0;
}
`

func TestFromSources(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "detect.c"), []byte(sampleSource), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "notes.txt"), []byte(`"ignored"`), 0644))

	outPath := filepath.Join(t.TempDir(), "lib.dict")
	n, err := NewBuilder(zap.NewNop()).FromSources(srcDir, outPath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `="<?xml"`)
	assert.Contains(t, content, `="<!DOCTYPE"`)
	assert.NotContains(t, content, `="x"`)
	assert.NotContains(t, content, "ignored")
}

func TestFromSourcesNoTokens(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "empty.c"), []byte("int x;\n"), 0644))

	outPath := filepath.Join(t.TempDir(), "lib.dict")
	n, err := NewBuilder(zap.NewNop()).FromSources(srcDir, outPath)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoFileExists(t, outPath)
}

func TestUsableToken(t *testing.T) {
	assert.True(t, usableToken("<?xml"))
	assert.True(t, usableToken("Content-Type:"))
	assert.False(t, usableToken("ab"))
	assert.False(t, usableToken("has\\escape"))
	assert.False(t, usableToken("binary\x01byte"))
	assert.False(t, usableToken("this literal is far too long to be a useful token"))
}
