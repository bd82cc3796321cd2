// Package sanitize cleans user-supplied chat text before it is stored.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MessageBody trims surrounding space, drops control characters except
// newlines and tabs, and replaces invalid UTF-8.
func MessageBody(input string) string {
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "�")
	}
	input = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	return strings.TrimSpace(input)
}

// AttachmentRef accepts object keys made of path segments without traversal.
func AttachmentRef(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "/") || strings.Contains(ref, "..") || strings.ContainsAny(ref, "\\\x00") {
		return "", false
	}
	return ref, true
}

// RuneLength counts characters, not bytes.
func RuneLength(s string) int {
	return utf8.RuneCountInString(s)
}
