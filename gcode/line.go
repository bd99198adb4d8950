package gcode

import "strings"

// IsComment reports whether line is a structural comment, i.e. its first
// non-whitespace character is ';' or '('.
func IsComment(line string) bool {
	s := strings.TrimSpace(line)
	if s == "" {
		return false
	}
	return s[0] == ';' || s[0] == '('
}

// IsBlank reports whether line contains only whitespace.
func IsBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}
