/*
Copyright (c) 2025 Mike Lane

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package config

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// ParseInterval parses an interval string of the form "<number><unit>" where
// unit is one of ms, s, m, h, or d. It exists instead of time.ParseDuration
// because operators configure intervals like "1d", which the standard grammar
// rejects, and because the accepted unit set is deliberately closed.
//
// Examples:
//
//	ParseInterval("5m")   // 5 * time.Minute
//	ParseInterval("30s")  // 30 * time.Second
//	ParseInterval("bad")  // error
//
// Malformed input is a configuration error and must be surfaced to the caller
// synchronously, never deferred into the discovery loop.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("invalid interval %q: empty string", s)
	}

	split := len(s)
	for i, r := range s {
		if !unicode.IsDigit(r) {
			split = i
			break
		}
	}
	if split == 0 {
		return 0, fmt.Errorf("invalid interval %q: missing numeric value", s)
	}

	var value int64
	for _, r := range s[:split] {
		value = value*10 + int64(r-'0')
	}

	var unit time.Duration
	switch s[split:] {
	case "ms":
		unit = time.Millisecond
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "":
		return 0, fmt.Errorf("invalid interval %q: missing unit (expected ms, s, m, h, or d)", s)
	default:
		return 0, fmt.Errorf("invalid interval %q: unknown unit %q (expected ms, s, m, h, or d)", s, s[split:])
	}

	if value == 0 {
		return 0, fmt.Errorf("invalid interval %q: must be greater than zero", s)
	}

	return time.Duration(value) * unit, nil
}
