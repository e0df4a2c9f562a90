package synth

import (
	"context"
	"testing"

	"cifuzz/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(name, signature, header string) Request {
	return Request{
		EntryPoint: types.EntryPoint{
			Symbol: types.PublicSymbol{Name: name, Signature: signature},
		},
		HeaderInclude: header,
	}
}

func TestTemplateBufferAndLength(t *testing.T) {
	gen := &TemplateGenerator{}
	src, err := gen.HarnessSource(context.Background(),
		request("xmlParse", "int xmlParse(const char *data, size_t size);", "libxml/parser.h"))
	require.NoError(t, err)

	assert.Contains(t, src, "#include <libxml/parser.h>")
	assert.Contains(t, src, "int main(void)")
	assert.Contains(t, src, "fread(buf, 1, sizeof(buf) - 1, stdin)")
	assert.Contains(t, src, "(void)xmlParse((const char *)buf, (size_t)len);")
}

func TestTemplateNoArguments(t *testing.T) {
	gen := &TemplateGenerator{}
	src, err := gen.HarnessSource(context.Background(),
		request("initLibrary", "void initLibrary(void);", ""))
	require.NoError(t, err)
	assert.Contains(t, src, "(void)initLibrary();")
	// Without a header the declaration is emitted inline.
	assert.Contains(t, src, "extern void initLibrary(void);")
}

func TestTemplateStandaloneInteger(t *testing.T) {
	gen := &TemplateGenerator{}
	src, err := gen.HarnessSource(context.Background(),
		request("setDepth", "void setDepth(int depth);", "api.h"))
	require.NoError(t, err)
	assert.Contains(t, src, "(void)setDepth((int)(len > 0 ? buf[0] : 0));")
}

func TestTemplateRejectsFunctionPointer(t *testing.T) {
	gen := &TemplateGenerator{}
	_, err := gen.HarnessSource(context.Background(),
		request("setHandler", "void setHandler(void (*cb)(int));", "api.h"))
	assert.Error(t, err)
}

func TestTemplateRejectsOpaquePointer(t *testing.T) {
	gen := &TemplateGenerator{}
	_, err := gen.HarnessSource(context.Background(),
		request("parseCtxt", "int parseCtxt(xmlParserCtxtPtr ctxt);", "api.h"))
	assert.Error(t, err)
}

func TestTemplateRequiresSignature(t *testing.T) {
	gen := &TemplateGenerator{}
	_, err := gen.HarnessSource(context.Background(), request("mystery", "", ""))
	assert.Error(t, err)
}
