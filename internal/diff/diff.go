// Package diff turns a commit of the target library into the set of
// functions it touched.
package diff

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"cifuzz/internal/types"

	git_diff_parser "github.com/speakeasy-api/git-diff-parser"
	"go.uber.org/zap"
)

type Analyzer struct {
	repoDir string
	logger  *zap.Logger
}

func NewAnalyzer(repoDir string, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		repoDir: repoDir,
		logger:  logger.Named("diff"),
	}
}

// ChangedFunctions resolves the commit in the library checkout and returns
// the functions with at least one modified line in their body, ordered by
// file then hunk start line. Failure to resolve the commit or to parse its
// diff is a DiffResolutionError; the whole run aborts on it.
func (a *Analyzer) ChangedFunctions(ctx context.Context, commit string) ([]types.ChangedFunction, error) {
	// <commit>^! is the commit against its first parent, same as the
	// view "git show" presents.
	cmd := exec.CommandContext(ctx, "git", "-C", a.repoDir, "diff", "--no-color", commit+"^!")
	out, err := cmd.Output()
	if err != nil {
		detail := err.Error()
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return nil, &types.DiffResolutionError{Commit: commit, Err: fmt.Errorf("git diff: %s", detail)}
	}

	a.logger.Debug("resolved commit diff",
		zap.String("commit", commit),
		zap.Int("diff_bytes", len(out)),
		zap.ByteString("diff", out))

	changed, err := ParseChangedFunctions(string(out))
	if err != nil {
		return nil, &types.DiffResolutionError{Commit: commit, Err: err}
	}
	return changed, nil
}

// hunkContextRe captures the function context git appends after the second
// @@ of a hunk header.
var hunkContextRe = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+\d+(?:,\d+)? @@ ?(.*)$`)

// ParseChangedFunctions extracts changed functions from a unified diff.
// Structure and line accounting come from the parsed diff; function names
// come from the hunk-header context lines, which the parser does not keep.
func ParseChangedFunctions(diffText string) ([]types.ChangedFunction, error) {
	parsed, errs := git_diff_parser.Parse(diffText)
	if len(parsed.FileDiff) == 0 {
		if len(errs) > 0 {
			return nil, fmt.Errorf("unparseable diff: %v", errs[0])
		}
		return nil, fmt.Errorf("empty diff")
	}

	contexts := hunkContexts(diffText)

	var changed []types.ChangedFunction
	index := make(map[string]int) // file\x00name -> position in changed

	for _, fd := range parsed.FileDiff {
		if fd.IsBinary || fd.Type == git_diff_parser.FileDiffTypeDeleted {
			continue
		}
		file := fd.ToFile
		if !isSourceFile(file) {
			continue
		}
		fileContexts := contexts[file]
		for i, hunk := range fd.Hunks {
			if !hunk.ChangeList.IsSignificant() || !hasCodeChange(hunk.ChangeList) {
				continue
			}
			var rawContext string
			if i < len(fileContexts) {
				rawContext = fileContexts[i]
			}
			name := functionName(rawContext)
			if name == "" {
				// Hunk above the first function of the file, or a
				// declaration-level change. No function to attribute.
				continue
			}
			start := hunk.StartLineNumberNew
			end := start + hunk.CountNew - 1
			if end < start {
				end = start
			}
			key := file + "\x00" + name
			if pos, ok := index[key]; ok {
				if start < changed[pos].StartLine {
					changed[pos].StartLine = start
				}
				if end > changed[pos].EndLine {
					changed[pos].EndLine = end
				}
				continue
			}
			index[key] = len(changed)
			changed = append(changed, types.ChangedFunction{
				Name:      name,
				File:      file,
				StartLine: start,
				EndLine:   end,
			})
		}
	}
	return changed, nil
}

// hunkContexts maps each file of the raw diff to its hunk-header context
// strings, in hunk order.
func hunkContexts(diffText string) map[string][]string {
	contexts := make(map[string][]string)
	var currentFile string
	for _, line := range strings.Split(diffText, "\n") {
		if strings.HasPrefix(line, "+++ ") {
			currentFile = strings.TrimPrefix(strings.TrimSpace(line[4:]), "b/")
			continue
		}
		if m := hunkContextRe.FindStringSubmatch(line); m != nil && currentFile != "" {
			contexts[currentFile] = append(contexts[currentFile], m[1])
		}
	}
	return contexts
}

// functionName reduces a hunk context like
// "static int parseInternal(xmlParserCtxtPtr ctxt," to "parseInternal".
func functionName(context string) string {
	context = strings.TrimSpace(context)
	if context == "" {
		return ""
	}
	if i := strings.Index(context, "("); i >= 0 {
		context = context[:i]
	}
	fields := strings.Fields(context)
	if len(fields) == 0 {
		return ""
	}
	name := fields[len(fields)-1]
	name = strings.TrimLeft(name, "*&")
	if !identRe.MatchString(name) {
		return ""
	}
	return name
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var sourceExts = map[string]bool{
	".c":   true,
	".cc":  true,
	".cpp": true,
	".h":   true,
	".hpp": true,
}

func isSourceFile(file string) bool {
	return sourceExts[filepath.Ext(file)]
}

// hasCodeChange reports whether any added or removed line carries code, as
// opposed to blank lines and comments. Pure comment/whitespace hunks do
// not make a function "changed".
func hasCodeChange(changes git_diff_parser.ChangeList) bool {
	for _, change := range changes {
		switch change.Type {
		case git_diff_parser.ContentChangeTypeAdd:
			if isCodeLine(change.To) {
				return true
			}
		case git_diff_parser.ContentChangeTypeDelete:
			if isCodeLine(change.From) {
				return true
			}
		case git_diff_parser.ContentChangeTypeModify:
			if isCodeLine(change.From) || isCodeLine(change.To) {
				return true
			}
		}
	}
	return false
}

// blockCommentContinuationRe matches the interior lines of a /* ... */
// block written in the usual style: "*", "* text", "*/". A leading star
// followed by anything else ("*ptr = value;", "*out++ = c;") is a
// pointer dereference, not a comment.
var blockCommentContinuationRe = regexp.MustCompile(`^\*($|[ \t/*])`)

func isCodeLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "//") || blockCommentContinuationRe.MatchString(trimmed) {
		return false
	}
	if strings.HasPrefix(trimmed, "/*") && (strings.HasSuffix(trimmed, "*/") || !strings.Contains(trimmed, "*/")) {
		return false
	}
	return true
}
