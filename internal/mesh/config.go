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

package mesh

import (
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/mikelane/meshd/internal/discovery"
	"github.com/mikelane/meshd/internal/openapi"
)

// Configuration is the derived federation artifact: one source entry per
// service the gateway should expose. It is a pure function of the current
// endpoint snapshot; nothing accumulates across ticks.
type Configuration struct {
	Sources []Source `yaml:"sources"`
}

// Source is one federated backend
type Source struct {
	// Name is the service name as exposed to the mesh runtime.
	Name string `yaml:"name"`

	// Namespace records where the backing service lives.
	Namespace string `yaml:"namespace"`

	// Handler describes how the mesh runtime reaches the backend. Exactly
	// one of the handler variants is set.
	Handler Handler `yaml:"handler"`
}

// Handler is the per-source transport description
type Handler struct {
	// GraphQL points at a backend that speaks GraphQL natively (a remote schema).
	GraphQL *GraphQLHandler `yaml:"graphql,omitempty"`

	// OpenAPI wraps a REST backend described by an OpenAPI/Swagger document.
	OpenAPI *OpenAPIHandler `yaml:"openapi,omitempty"`
}

// GraphQLHandler is a remote-schema descriptor
type GraphQLHandler struct {
	Endpoint string `yaml:"endpoint"`
}

// OpenAPIHandler is a converted-REST descriptor
type OpenAPIHandler struct {
	// Endpoint is the cluster-internal base URL of the backend.
	Endpoint string `yaml:"endpoint"`

	// Source is the path the API description was fetched from.
	Source string `yaml:"source"`

	// Dialect is "openapi3" or "swagger2".
	Dialect string `yaml:"dialect"`

	// Operations enumerates the wrapped HTTP operations in a stable order.
	Operations []Operation `yaml:"operations,omitempty"`
}

// Operation is one wrapped HTTP operation
type Operation struct {
	// Field is the GraphQL field name the operation is exposed as.
	Field string `yaml:"field"`

	Method string `yaml:"method"`
	Path   string `yaml:"path"`

	Description string `yaml:"description,omitempty"`
}

// BuildConfiguration computes the federation configuration for the given
// endpoint snapshot. GraphQL-native services become remote-schema entries;
// services with an accepted API description become openapi-wrapper entries;
// everything else is left out. Input order is preserved, so a service
// appearing in both the Knative and regular listings yields two entries, the
// same way the listings themselves are not deduplicated.
func BuildConfiguration(services []discovery.ServiceEndpoint) *Configuration {
	cfg := &Configuration{Sources: []Source{}}
	for i := range services {
		svc := &services[i]
		switch {
		case svc.IsGraphQLNative():
			cfg.Sources = append(cfg.Sources, Source{
				Name:      svc.Name,
				Namespace: svc.Namespace,
				Handler: Handler{
					GraphQL: &GraphQLHandler{Endpoint: svc.GraphQLEndpoint()},
				},
			})
		case svc.HasOpenAPI && svc.OpenAPISpec != nil:
			cfg.Sources = append(cfg.Sources, Source{
				Name:      svc.Name,
				Namespace: svc.Namespace,
				Handler: Handler{
					OpenAPI: &OpenAPIHandler{
						Endpoint:   svc.InternalURL,
						Source:     svc.OpenAPIURL,
						Dialect:    svc.OpenAPISpec.Kind.String(),
						Operations: buildOperations(svc.Name, svc.OpenAPISpec),
					},
				},
			})
		}
	}
	return cfg
}

// buildOperations enumerates the wrapped operations of an accepted document.
// For OpenAPI 3 documents with a typed model the real operations are walked;
// otherwise one GET field per declared path is synthesized so Swagger 2.0
// backends still federate.
func buildOperations(serviceName string, doc *openapi.Document) []Operation {
	if doc.Kind == openapi.OpenAPI3 && doc.Spec != nil && doc.Spec.Paths != nil {
		return typedOperations(serviceName, doc.Spec)
	}

	ops := make([]Operation, 0, len(doc.Paths))
	for _, path := range doc.Paths {
		ops = append(ops, Operation{
			Field:  fieldName(serviceName, "get", path, ""),
			Method: "GET",
			Path:   path,
		})
	}
	return ops
}

func typedOperations(serviceName string, spec *openapi3.T) []Operation {
	var ops []Operation
	// InMatchingOrder is deterministic, which keeps the rendered
	// configuration diff-stable across ticks.
	for _, path := range spec.Paths.InMatchingOrder() {
		item := spec.Paths.Value(path)
		if item == nil {
			continue
		}
		for _, method := range []string{"GET", "POST", "PUT", "PATCH", "DELETE"} {
			op := item.GetOperation(method)
			if op == nil {
				continue
			}
			ops = append(ops, Operation{
				Field:       fieldName(serviceName, method, path, op.OperationID),
				Method:      method,
				Path:        path,
				Description: op.Summary,
			})
		}
	}
	return ops
}

// fieldName derives a stable GraphQL-safe field name for an operation,
// preferring the document's operationId when present.
func fieldName(serviceName, method, path, operationID string) string {
	if operationID != "" {
		return sanitizeField(serviceName + "_" + operationID)
	}
	return sanitizeField(serviceName + "_" + strings.ToLower(method) + path)
}

func sanitizeField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '/' || r == '-' || r == '.' || r == '{' || r == '}':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	if out == "" {
		return "field"
	}
	return out
}

// RenderSDL assembles a schema stub for the configuration: a Query type with
// one field per wrapped operation plus a directive-annotated stanza per
// remote schema. The mesh runtime replaces this with the fully stitched
// schema; the stub exists so consumers can see what will be federated.
func RenderSDL(cfg *Configuration) string {
	var b strings.Builder
	b.WriteString("# Federated schema assembled by meshd\n")
	b.WriteString(fmt.Sprintf("# Sources: %d\n\n", len(cfg.Sources)))

	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.Handler.GraphQL != nil {
			b.WriteString(fmt.Sprintf("# remote schema %q at %s\n", src.Name, src.Handler.GraphQL.Endpoint))
		}
	}

	b.WriteString("\ntype Query {\n")
	fields := 0
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.Handler.OpenAPI == nil {
			continue
		}
		for _, op := range src.Handler.OpenAPI.Operations {
			if op.Description != "" {
				b.WriteString(fmt.Sprintf("  \"\"\"%s\"\"\"\n", op.Description))
			}
			b.WriteString(fmt.Sprintf("  %s: JSON\n", op.Field))
			fields++
		}
	}
	if fields == 0 {
		b.WriteString("  _empty: Boolean\n")
	}
	b.WriteString("}\n\nscalar JSON\n")
	return b.String()
}
