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
	"testing"
	"time"
)

func TestParseInterval_accepts_all_units(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"5m", 300000 * time.Millisecond},
		{"30s", 30000 * time.Millisecond},
		{"500ms", 500 * time.Millisecond},
		{"2h", 2 * time.Hour},
		{"1d", 24 * time.Hour},
		{"90s", 90 * time.Second},
		{"  5m ", 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseInterval(tt.input)
			if err != nil {
				t.Fatalf("ParseInterval(%q) returned unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseInterval(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseInterval_rejects_malformed_input(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"Non-numeric value", "bad"},
		{"Missing unit", "5"},
		{"Missing value", "m"},
		{"Unknown unit", "5w"},
		{"Empty string", ""},
		{"Zero value", "0s"},
		{"Negative value", "-5m"},
		{"Unit before value", "m5"},
		{"Fractional value", "1.5h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseInterval(tt.input); err == nil {
				t.Errorf("ParseInterval(%q) expected error, got nil", tt.input)
			}
		})
	}
}
