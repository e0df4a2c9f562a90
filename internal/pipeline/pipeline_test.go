package pipeline

import (
	"testing"

	"cifuzz/internal/build"
	"cifuzz/internal/discovery"
	"cifuzz/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestHeaderInclude(t *testing.T) {
	bctx := build.NewContext("/work/build", "libxml2")

	sym := types.PublicSymbol{Name: "xmlParseDoc", File: "/work/build/include/libxml/parser.h"}
	assert.Equal(t, "libxml/parser.h", headerInclude(sym, bctx))

	// Symbol table only, no declaring header.
	assert.Equal(t, "", headerInclude(types.PublicSymbol{Name: "raw"}, bctx))

	// Header outside the include tree falls back to its base name.
	outside := types.PublicSymbol{Name: "zlibVersion", File: "/usr/include/zlib.h"}
	assert.Equal(t, "zlib.h", headerInclude(outside, bctx))
}

func TestReportValidated(t *testing.T) {
	report := &Report{
		Outcomes: []Outcome{
			{Harness: &types.Harness{ID: "a", Status: types.HarnessValidated}},
			{Harness: &types.Harness{ID: "b", Status: types.HarnessAbandoned}},
			{Err: assert.AnError},
		},
	}
	validated := report.Validated()
	assert.Len(t, validated, 1)
	assert.Equal(t, "a", validated[0].ID)
}

func TestReportSummary(t *testing.T) {
	report := &Report{
		Library: "libxml2",
		Commit:  "c0ffee",
		Changed: []types.ChangedFunction{{Name: "parseInternal", File: "parser.c"}},
		Outcomes: []Outcome{
			{
				EntryPoint: types.EntryPoint{Symbol: types.PublicSymbol{Name: "xmlParseDoc"}},
				Harness: &types.Harness{
					Status:     types.HarnessValidated,
					Generator:  "template",
					BinaryPath: "/work/harness_xmlParseDoc",
					Attempts:   []types.BuildAttempt{{Index: 1, Success: true}},
				},
			},
		},
	}
	summary := report.Summary()
	assert.Contains(t, summary, "libxml2 @ c0ffee")
	assert.Contains(t, summary, "parseInternal")
	assert.Contains(t, summary, "1 validated / 1 entry points")
	assert.Contains(t, summary, "harness_xmlParseDoc")
}

func TestReportSummaryShowsGapDetails(t *testing.T) {
	report := &Report{
		Library: "libxml2",
		Commit:  "c0ffee",
		Gaps: []discovery.Gap{
			{
				Function: types.ChangedFunction{
					Name: "helper", File: "parser.c", StartLine: 100, EndLine: 107,
				},
				Reason: "no exported ancestor within search depth",
			},
		},
	}
	summary := report.Summary()
	assert.Contains(t, summary, "helper (parser.c): no exported ancestor within search depth")
	// The struct must never be rendered raw.
	assert.NotContains(t, summary, "%!s")
	assert.NotContains(t, summary, "{helper")
}

func TestReportSummaryShowsFailureEvidence(t *testing.T) {
	report := &Report{
		Library: "libxml2",
		Commit:  "c0ffee",
		Outcomes: []Outcome{
			{
				EntryPoint: types.EntryPoint{Symbol: types.PublicSymbol{Name: "xmlParseDoc"}},
				Harness: &types.Harness{
					Status:    types.HarnessSmokeFailed,
					Generator: "template",
				},
				Detail: "1 crash(es) within 10s",
			},
			{
				EntryPoint: types.EntryPoint{Symbol: types.PublicSymbol{Name: "xmlReadFile"}},
				Harness: &types.Harness{
					Status:    types.HarnessAbandoned,
					Generator: "template",
					Attempts: []types.BuildAttempt{
						{Index: 1, Diagnostics: "error: unknown type name 'xmlChar'"},
						{Index: 2, Diagnostics: "error: undefined reference to `xmlReadFile'"},
					},
				},
			},
		},
	}
	summary := report.Summary()
	assert.Contains(t, summary, "evidence: 1 crash(es) within 10s")
	assert.Contains(t, summary, "last diagnostics: error: undefined reference to `xmlReadFile'")
}

func TestShortCommit(t *testing.T) {
	assert.Equal(t, "abc", shortCommit("abc"))
	assert.Equal(t, "0123456789ab", shortCommit("0123456789abcdef0123"))
}
