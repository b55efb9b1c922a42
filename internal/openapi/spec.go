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

// Package openapi classifies probed HTTP bodies as OpenAPI 3.x or Swagger 2.0
// documents and carries the accepted document through the discovery pipeline.
package openapi

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Kind identifies which API description dialect a probed document matched
type Kind int

const (
	// Unrecognized means the body is not an accepted API description
	Unrecognized Kind = iota
	// OpenAPI3 is an OpenAPI 3.x document
	OpenAPI3
	// Swagger2 is a Swagger 2.0 document
	Swagger2
)

// String returns a human-readable dialect name
func (k Kind) String() string {
	switch k {
	case OpenAPI3:
		return "openapi3"
	case Swagger2:
		return "swagger2"
	default:
		return "unrecognized"
	}
}

// Document is a probed and accepted API description. Kind is always OpenAPI3
// or Swagger2 for documents returned by Classify; the zero value is
// Unrecognized.
type Document struct {
	// Kind is the matched dialect.
	Kind Kind

	// Version is the raw version string ("3.0.3", "2.0", ...).
	Version string

	// Title and Paths come from the document's info block and path map.
	Title string
	Paths []string

	// Spec is the typed OpenAPI 3 model, populated best-effort when Kind is
	// OpenAPI3 and the document loads cleanly. The acceptance decision never
	// depends on it; downstream conversion uses it when present.
	Spec *openapi3.T

	// Raw is the original JSON body.
	Raw json.RawMessage
}

// shape is the minimal structure the acceptance predicate inspects
type shape struct {
	OpenAPI string                     `json:"openapi"`
	Swagger string                     `json:"swagger"`
	Info    map[string]json.RawMessage `json:"info"`
	Paths   map[string]json.RawMessage `json:"paths"`
}

// Classify inspects a JSON body and returns the matched document, or a
// Document with Kind Unrecognized when the body is neither a valid OpenAPI
// 3.x nor Swagger 2.0 description.
//
// Acceptance rules:
//   - OpenAPI 3.x: "openapi" field with a "3." prefix, non-empty info, non-empty paths
//   - Swagger 2.0: "swagger" field equal to "2.0", non-empty info, non-empty paths
//
// Anything else, including unparsable JSON, is Unrecognized.
func Classify(body []byte) Document {
	var s shape
	if err := json.Unmarshal(body, &s); err != nil {
		return Document{}
	}
	if len(s.Info) == 0 || len(s.Paths) == 0 {
		return Document{}
	}

	doc := Document{
		Paths: pathKeys(s.Paths),
		Title: infoTitle(s.Info),
		Raw:   json.RawMessage(body),
	}

	switch {
	case strings.HasPrefix(s.OpenAPI, "3."):
		doc.Kind = OpenAPI3
		doc.Version = s.OpenAPI
		// Typed load is enrichment only. A document that satisfies the
		// acceptance predicate but trips kin-openapi's stricter validation
		// is still accepted, just without the typed model.
		loader := openapi3.NewLoader()
		if spec, err := loader.LoadFromData(body); err == nil {
			doc.Spec = spec
		}
		return doc
	case s.Swagger == "2.0":
		doc.Kind = Swagger2
		doc.Version = s.Swagger
		return doc
	default:
		return Document{}
	}
}

// IsValidSpec reports whether a body would be accepted by Classify. It is the
// acceptance predicate on its own, for callers that do not need the document.
func IsValidSpec(body []byte) bool {
	return Classify(body).Kind != Unrecognized
}

func infoTitle(info map[string]json.RawMessage) string {
	raw, ok := info["title"]
	if !ok {
		return ""
	}
	var title string
	if err := json.Unmarshal(raw, &title); err != nil {
		return ""
	}
	return title
}

func pathKeys(paths map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	// Deterministic order keeps the derived mesh configuration stable across
	// ticks, which the change-detection diff depends on.
	sort.Strings(keys)
	return keys
}
