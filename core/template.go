package core

import "strings"

// ParseTemplate splits a free-text alert description into content tokens.
// A placeholder "$field.path" becomes a Field token and everything between
// placeholders is kept as Text. "$$" is a literal dollar sign. A trailing dot
// after a placeholder is treated as punctuation, not part of the path.
func ParseTemplate(s string) []AlertContent {
	var (
		out  []AlertContent
		text strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			out = append(out, Text(text.String()))
			text.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		if s[i] != '$' {
			text.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '$' {
			text.WriteByte('$')
			i++
			continue
		}
		j := i + 1
		for j < len(s) && isPathByte(s[j]) {
			j++
		}
		for j > i+1 && s[j-1] == '.' {
			j--
		}
		if j == i+1 {
			text.WriteByte('$')
			continue
		}
		flush()
		out = append(out, Field(s[i+1:j]))
		i = j - 1
	}
	flush()
	return out
}

func isPathByte(c byte) bool {
	return c == '.' || c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
