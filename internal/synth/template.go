package synth

import (
	"context"
	"fmt"
	"strings"
)

// TemplateGenerator is the offline fallback: a deterministic harness that
// feeds a fixed-size byte buffer from stdin into the entry point. It only
// supports signature shapes whose arguments have a safe default marshaling
// from bytes; anything else is a generation failure for this strategy.
type TemplateGenerator struct{}

func (t *TemplateGenerator) Name() string { return "template" }

func (t *TemplateGenerator) HarnessSource(_ context.Context, req Request) (string, error) {
	sym := req.EntryPoint.Symbol
	if sym.Signature == "" {
		return "", fmt.Errorf("no signature available for %s", sym.Name)
	}
	call, err := marshalCall(sym.Name, sym.Signature)
	if err != nil {
		return "", err
	}

	var src strings.Builder
	src.WriteString("#include <stdint.h>\n")
	src.WriteString("#include <stdio.h>\n")
	src.WriteString("#include <stdlib.h>\n")
	src.WriteString("#include <string.h>\n")
	if req.HeaderInclude != "" {
		fmt.Fprintf(&src, "#include <%s>\n", req.HeaderInclude)
	} else {
		fmt.Fprintf(&src, "\n%s\n", externDeclaration(sym.Signature))
	}
	src.WriteString("\n")
	src.WriteString("int main(void) {\n")
	src.WriteString("\tstatic unsigned char buf[65536];\n")
	src.WriteString("\tsize_t len = fread(buf, 1, sizeof(buf) - 1, stdin);\n")
	src.WriteString("\tbuf[len] = 0;\n")
	fmt.Fprintf(&src, "\t%s;\n", call)
	src.WriteString("\treturn 0;\n")
	src.WriteString("}\n")
	return src.String(), nil
}

// paramKind classifies one parameter of the entry point signature.
type paramKind int

const (
	paramBuffer  paramKind = iota // byte/char pointer, fed the input buffer
	paramLength                   // integral following a buffer, fed len
	paramInteger                  // standalone integral, fed from prefix bytes
	paramNone                     // (void)
)

// marshalCall renders the call expression for the entry point, or an error
// when some argument type has no safe default marshaling.
func marshalCall(name, signature string) (string, error) {
	params, err := splitParams(name, signature)
	if err != nil {
		return "", err
	}
	if len(params) == 0 {
		return fmt.Sprintf("(void)%s()", name), nil
	}

	args := make([]string, len(params))
	for i, param := range params {
		kind, ctype, err := classifyParam(param)
		if err != nil {
			return "", fmt.Errorf("argument %d of %s: %w", i+1, name, err)
		}
		switch kind {
		case paramNone:
			return fmt.Sprintf("(void)%s()", name), nil
		case paramBuffer:
			args[i] = fmt.Sprintf("(%s)buf", ctype)
		case paramLength:
			if i > 0 {
				prev, _, _ := classifyParam(params[i-1])
				if prev == paramBuffer {
					args[i] = fmt.Sprintf("(%s)len", ctype)
					continue
				}
			}
			args[i] = fmt.Sprintf("(%s)(len > 0 ? buf[0] : 0)", ctype)
		case paramInteger:
			args[i] = fmt.Sprintf("(%s)(len > 0 ? buf[0] : 0)", ctype)
		}
	}
	return fmt.Sprintf("(void)%s(%s)", name, strings.Join(args, ", ")), nil
}

// splitParams extracts the parameter type list from a declaration like
// "int xmlParseDoc(const xmlChar *cur);".
func splitParams(name, signature string) ([]string, error) {
	idx := strings.Index(signature, name)
	if idx < 0 {
		return nil, fmt.Errorf("signature does not mention %s", name)
	}
	rest := signature[idx+len(name):]
	open := strings.Index(rest, "(")
	closing := strings.LastIndex(rest, ")")
	if open < 0 || closing < open {
		return nil, fmt.Errorf("malformed signature %q", signature)
	}
	inner := strings.TrimSpace(rest[open+1 : closing])
	if inner == "" || inner == "void" {
		return nil, nil
	}
	parts := strings.Split(inner, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

var integralTypes = map[string]bool{
	"int": true, "long": true, "short": true, "char": true,
	"unsigned": true, "signed": true, "size_t": true,
	"uint8_t": true, "uint16_t": true, "uint32_t": true, "uint64_t": true,
	"int8_t": true, "int16_t": true, "int32_t": true, "int64_t": true,
}

var bytePointees = map[string]bool{
	"char": true, "void": true, "uint8_t": true, "xmlChar": true,
}

func classifyParam(param string) (paramKind, string, error) {
	// Drop the parameter name: the last identifier when the token before
	// it is a type word or '*'.
	param = strings.TrimSpace(param)
	if param == "void" {
		return paramNone, "", nil
	}
	if strings.Contains(param, "(") {
		return 0, "", fmt.Errorf("function pointer parameter %q is not marshalable", param)
	}

	pointer := strings.Contains(param, "*")
	normalized := strings.ReplaceAll(param, "*", " * ")
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return 0, "", fmt.Errorf("empty parameter")
	}

	// Without a trailing parameter name the last field is part of the
	// type; with one it is the name. Either way the type words are the
	// fields that are known type keywords, const, or '*'.
	var typeWords []string
	for _, f := range fields {
		if f == "const" || f == "*" || integralTypes[f] || bytePointees[f] || f == "struct" {
			typeWords = append(typeWords, f)
		}
	}
	if pointer {
		for _, w := range typeWords {
			if bytePointees[w] {
				ctype := strings.Join(typeWords, " ")
				ctype = strings.ReplaceAll(ctype, " * ", " *")
				if !strings.Contains(ctype, "*") {
					ctype += " *"
				}
				return paramBuffer, ctype, nil
			}
		}
		return 0, "", fmt.Errorf("pointer parameter %q has no byte-buffer marshaling", param)
	}

	for _, w := range typeWords {
		if integralTypes[w] {
			// size-ish names mean length when they follow a buffer
			ctype := strings.Join(typeWords, " ")
			lower := strings.ToLower(param)
			if strings.Contains(lower, "len") || strings.Contains(lower, "size") || w == "size_t" {
				return paramLength, ctype, nil
			}
			return paramInteger, ctype, nil
		}
	}
	return 0, "", fmt.Errorf("parameter %q has no safe default marshaling", param)
}

// externDeclaration renders the signature as a standalone declaration for
// harnesses built without the declaring header.
func externDeclaration(signature string) string {
	decl := strings.TrimSpace(signature)
	if !strings.HasSuffix(decl, ";") {
		decl += ";"
	}
	if !strings.HasPrefix(decl, "extern ") {
		decl = "extern " + decl
	}
	return decl
}
