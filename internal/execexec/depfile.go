package execexec

import "strings"

// TokenizeDepfile splits Makefile-style dependency-rule content into
// whitespace-separated tokens, honoring backslash escaping of space, tab,
// '#', ':', and backslash itself, and '$$' as an escaped '$'. Mirrors
// depfile.cpp's tokenizer/untokenize pair closely enough to round-trip, but
// is bounded (no streaming) since dependency files are small by
// construction (one line per included header).
func TokenizeDepfile(content string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	runes := []rune(content)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\\' && i+1 < len(runes) && isEscapable(runes[i+1]):
			cur.WriteRune(runes[i+1])
			i++
		case c == '$' && i+1 < len(runes) && runes[i+1] == '$':
			cur.WriteRune('$')
			i++
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		case c == ':':
			flush()
			tokens = append(tokens, ":")
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return tokens
}

func isEscapable(c rune) bool {
	switch c {
	case '\\', '#', ':', ' ', '\t':
		return true
	default:
		return false
	}
}

// EscapeDepfileToken re-escapes a single filename for inclusion in
// dependency-rule content, the inverse of the escaping TokenizeDepfile
// undoes.
func EscapeDepfileToken(token string) string {
	var b strings.Builder
	for _, c := range token {
		switch c {
		case '\\', '#', ':', ' ', '\t':
			b.WriteByte('\\')
		case '$':
			b.WriteByte('$')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// UntokenizeDepfile renders tokens back into Makefile-rule content, spacing
// every token with a single space except around ":" which hugs the
// preceding token the way a real dependency file does ("target: dep1 dep2").
func UntokenizeDepfile(tokens []string) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 && t != ":" {
			b.WriteByte(' ')
		}
		if t == ":" {
			b.WriteByte(':')
			continue
		}
		b.WriteString(EscapeDepfileToken(t))
	}
	return b.String()
}

// RewriteDependencyTargets rewrites every token after the first (the object
// file path, left untouched per depfile.cpp's "don't rewrite object file
// path" rule) using rewrite, re-emitting unchanged content if rewrite never
// changes anything.
func RewriteDependencyTargets(content string, rewrite func(path string) string) string {
	tokens := TokenizeDepfile(content)
	changed := false
	for i, t := range tokens {
		if i == 0 || t == ":" {
			continue
		}
		if nt := rewrite(t); nt != t {
			tokens[i] = nt
			changed = true
		}
	}
	if !changed {
		return content
	}
	return UntokenizeDepfile(tokens)
}
