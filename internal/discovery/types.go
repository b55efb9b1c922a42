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

package discovery

import (
	"fmt"

	"github.com/mikelane/meshd/internal/openapi"
)

const (
	// OpenAPIPathAnnotation lets a service declare where its API description
	// lives; the declared path is probed before the common candidate list.
	OpenAPIPathAnnotation = "discovery.meshd.io/openapi-path"

	// ProtocolAnnotation marks a service as natively speaking a protocol the
	// gateway understands without probing, e.g. "graphql".
	ProtocolAnnotation = "discovery.meshd.io/protocol"

	// GraphQLPathAnnotation overrides the endpoint path for GraphQL-native
	// services. Defaults to /graphql.
	GraphQLPathAnnotation = "discovery.meshd.io/graphql-path"

	// ProtocolGraphQL is the ProtocolAnnotation value for GraphQL-native services
	ProtocolGraphQL = "graphql"
)

// ServiceEndpoint is one discovered backend. Endpoints are rebuilt from
// scratch on every discovery tick and are owned exclusively by that tick's
// pipeline; they are never shared between ticks or mutated concurrently.
type ServiceEndpoint struct {
	// Name and Namespace identify the backing resource.
	Name      string
	Namespace string

	// URL is the externally reachable address. Empty when the backing
	// resource has not been assigned one yet.
	URL string

	// InternalURL is the cluster-internal address used for probing, derived
	// deterministically from name, namespace and port.
	InternalURL string

	// Ready reflects the backing resource's Ready condition.
	Ready bool

	// Labels and Annotations are passed through from the resource metadata.
	Labels      map[string]string
	Annotations map[string]string

	// HasOpenAPI is set after probing when a valid spec was found.
	HasOpenAPI bool

	// OpenAPISpec is the accepted document, nil until probing succeeds.
	OpenAPISpec *openapi.Document

	// OpenAPIURL is the path the spec was found at, empty until probing succeeds.
	OpenAPIURL string

	// Err records the last probe error. It is populated only when every
	// candidate path failed with an unexpected error; plain 404s across the
	// board leave it nil because most services simply expose no spec.
	Err error
}

// Key returns the name/namespace identity of the endpoint
func (s *ServiceEndpoint) Key() string {
	return fmt.Sprintf("%s/%s", s.Namespace, s.Name)
}

// IsGraphQLNative reports whether the service is annotated as speaking
// GraphQL directly, making it a remote-schema candidate without probing.
func (s *ServiceEndpoint) IsGraphQLNative() bool {
	return s.Annotations[ProtocolAnnotation] == ProtocolGraphQL
}

// GraphQLEndpoint returns the cluster-internal GraphQL endpoint for a
// GraphQL-native service.
func (s *ServiceEndpoint) GraphQLEndpoint() string {
	path := s.Annotations[GraphQLPathAnnotation]
	if path == "" {
		path = "/graphql"
	}
	return s.InternalURL + path
}

// DiscoveryError wraps a failed Kubernetes list call, identifying which
// discovery source failed.
type DiscoveryError struct {
	// Source is "knative" or "services".
	Source string
	Err    error
}

// Error implements the error interface
func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("%s discovery failed: %v", e.Source, e.Err)
}

// Unwrap returns the underlying list error
func (e *DiscoveryError) Unwrap() error {
	return e.Err
}
