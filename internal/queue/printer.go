package queue

import (
	"fmt"
	"strings"
)

const maxPrinterIDLen = 64

// SanitizePrinterID drops every character outside [A-Za-z0-9_.-].
// An id that is empty after sanitizing, or longer than 64 characters, is rejected.
func SanitizePrinterID(raw string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if isPrinterIDRune(r) {
			b.WriteRune(r)
		}
	}
	id := b.String()
	if id == "" {
		return "", fmt.Errorf("%w: printer id %q has no usable characters", ErrValidation, raw)
	}
	if len(id) > maxPrinterIDLen {
		return "", fmt.Errorf("%w: printer id longer than %d characters", ErrValidation, maxPrinterIDLen)
	}
	return id, nil
}

func isPrinterIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '-', r == '.':
		return true
	}
	return false
}
