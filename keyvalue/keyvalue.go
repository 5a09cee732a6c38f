// Package keyvalue parses the key=value parameter lists found in SmartSDR
// status lines and discovery payloads.
package keyvalue

import "strings"

// Parse splits line into key=value pairs. Fields are separated by any of
// delims (a single space when none are given). A field with no '=' maps to
// an empty value and later duplicates overwrite earlier ones.
func Parse(line string, delims ...rune) map[string]string {
	return ParseWith(line, '=', delims...)
}

// ParseWith is Parse with a different separator between key and value.
func ParseWith(line string, inner rune, delims ...rune) map[string]string {
	if len(delims) == 0 {
		delims = []rune{' '}
	}
	params := map[string]string{}
	fields := strings.FieldsFunc(line, func(r rune) bool {
		for _, d := range delims {
			if r == d {
				return true
			}
		}
		return false
	})
	for _, field := range fields {
		key, value, _ := strings.Cut(field, string(inner))
		if key == "" {
			continue
		}
		params[key] = value
	}
	return params
}
