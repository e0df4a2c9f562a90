package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiGenerator asks the generative backend for harness source, seeding
// the prompt with the entry point's signature and, on retry, the previous
// compiler diagnostics.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiGenerator{
		client: client,
		model:  model,
	}, nil
}

func (g *GeminiGenerator) Name() string { return "gemini" }

func (g *GeminiGenerator) Close() error { return g.client.Close() }

func (g *GeminiGenerator) HarnessSource(ctx context.Context, req Request) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.2)

	resp, err := model.GenerateContent(ctx, genai.Text(buildPrompt(req)))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response from model")
	}

	var reply strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			reply.WriteString(string(text))
		}
	}
	src := stripCodeFences(reply.String())
	if strings.TrimSpace(src) == "" {
		return "", fmt.Errorf("model returned no source text")
	}
	return src, nil
}

func buildPrompt(req Request) string {
	sym := req.EntryPoint.Symbol
	var prompt strings.Builder
	prompt.WriteString("Write a C fuzzing harness for the following library entry point.\n\n")
	if sym.Signature != "" {
		fmt.Fprintf(&prompt, "Declaration:\n%s\n\n", sym.Signature)
	} else {
		fmt.Fprintf(&prompt, "Function name: %s\n\n", sym.Name)
	}
	if req.HeaderInclude != "" {
		fmt.Fprintf(&prompt, "The declaring header is available as #include <%s>.\n\n", req.HeaderInclude)
	}
	prompt.WriteString("Requirements:\n")
	prompt.WriteString("- define int main(void) that reads up to 64 KiB from stdin into a byte buffer\n")
	fmt.Fprintf(&prompt, "- call %s with arguments derived from that buffer\n", sym.Name)
	prompt.WriteString("- release any resources the call returns\n")
	prompt.WriteString("- no command line arguments, no files, no network\n")
	prompt.WriteString("- output only the C source, no explanations\n")
	if req.PrevDiagnostics != "" {
		prompt.WriteString("\nThe previous harness failed to compile with:\n\n")
		prompt.WriteString(req.PrevDiagnostics)
		prompt.WriteString("\n\nFix the harness accordingly.\n")
	}
	return prompt.String()
}

// stripCodeFences unwraps a markdown-fenced reply; models often wrap code
// in ```c blocks despite instructions.
func stripCodeFences(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	start := 1
	end := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			end = i
			break
		}
	}
	return strings.Join(lines[start:end], "\n")
}
