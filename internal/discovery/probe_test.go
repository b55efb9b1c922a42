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
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/mikelane/meshd/internal/openapi"
)

const testOpenAPI3 = `{
	"openapi": "3.0.3",
	"info": {"title": "Orders API", "version": "1.0.0"},
	"paths": {"/orders": {"get": {"operationId": "listOrders", "responses": {"200": {"description": "ok"}}}}}
}`

// specServer serves a spec body at the given paths and records every request
type specServer struct {
	mu       sync.Mutex
	requests []string
	server   *httptest.Server
}

func newSpecServer(t *testing.T, body string, servePaths ...string) *specServer {
	t.Helper()
	s := &specServer{}
	serve := make(map[string]bool, len(servePaths))
	for _, p := range servePaths {
		serve[p] = true
	}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.URL.Path)
		s.mu.Unlock()

		if !serve[r.URL.Path] {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body)) //nolint:errcheck
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *specServer) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func newTestDiscoverer(t *testing.T) *Discoverer {
	t.Helper()
	fakeClient := fake.NewClientBuilder().WithScheme(newScheme(t)).Build()
	return NewDiscoverer(fakeClient, "")
}

func TestProbeOpenAPIEndpoints_finds_spec_at_common_path(t *testing.T) {
	srv := newSpecServer(t, testOpenAPI3, "/openapi.json")
	d := newTestDiscoverer(t)

	services := []ServiceEndpoint{{Name: "orders", Namespace: "default", InternalURL: srv.server.URL}}
	probed := d.ProbeOpenAPIEndpoints(context.Background(), services)

	if len(probed) != 1 {
		t.Fatalf("got %d endpoints, want 1", len(probed))
	}
	ep := probed[0]
	if !ep.HasOpenAPI {
		t.Fatal("HasOpenAPI = false, want true")
	}
	if ep.OpenAPIURL != "/openapi.json" {
		t.Errorf("OpenAPIURL = %q, want /openapi.json", ep.OpenAPIURL)
	}
	if ep.OpenAPISpec == nil || ep.OpenAPISpec.Kind != openapi.OpenAPI3 {
		t.Errorf("OpenAPISpec = %+v, want an OpenAPI3 document", ep.OpenAPISpec)
	}
	if ep.Err != nil {
		t.Errorf("Err = %v, want nil", ep.Err)
	}

	// First success stops the scan: exactly one request.
	if reqs := srv.recorded(); len(reqs) != 1 || reqs[0] != "/openapi.json" {
		t.Errorf("requests = %v, want exactly [/openapi.json]", reqs)
	}
}

func TestProbeOpenAPIEndpoints_annotation_override_is_tried_first(t *testing.T) {
	srv := newSpecServer(t, testOpenAPI3, "/internal/spec")
	d := newTestDiscoverer(t)

	services := []ServiceEndpoint{{
		Name:        "orders",
		Namespace:   "default",
		InternalURL: srv.server.URL,
		Annotations: map[string]string{OpenAPIPathAnnotation: "/internal/spec"},
	}}
	probed := d.ProbeOpenAPIEndpoints(context.Background(), services)

	if !probed[0].HasOpenAPI {
		t.Fatal("HasOpenAPI = false, want true")
	}
	if probed[0].OpenAPIURL != "/internal/spec" {
		t.Errorf("OpenAPIURL = %q, want /internal/spec", probed[0].OpenAPIURL)
	}

	reqs := srv.recorded()
	if len(reqs) != 1 {
		t.Fatalf("requests = %v, want the override path alone before any common path", reqs)
	}
	if reqs[0] != "/internal/spec" {
		t.Errorf("first request = %q, want /internal/spec", reqs[0])
	}
}

func TestProbeOpenAPIEndpoints_falls_through_override_to_common_paths(t *testing.T) {
	// Override points at a dead path; the common list still gets scanned.
	srv := newSpecServer(t, testOpenAPI3, "/swagger.json")
	d := newTestDiscoverer(t)

	services := []ServiceEndpoint{{
		Name:        "orders",
		Namespace:   "default",
		InternalURL: srv.server.URL,
		Annotations: map[string]string{OpenAPIPathAnnotation: "/internal/spec"},
	}}
	probed := d.ProbeOpenAPIEndpoints(context.Background(), services)

	if !probed[0].HasOpenAPI {
		t.Fatal("HasOpenAPI = false, want true")
	}
	if probed[0].OpenAPIURL != "/swagger.json" {
		t.Errorf("OpenAPIURL = %q, want /swagger.json", probed[0].OpenAPIURL)
	}

	reqs := srv.recorded()
	if len(reqs) < 2 || reqs[0] != "/internal/spec" {
		t.Errorf("requests = %v, want override first then common paths", reqs)
	}
}

func TestProbeOpenAPIEndpoints_no_spec_is_not_an_error(t *testing.T) {
	srv := newSpecServer(t, testOpenAPI3) // serves nothing, 404 everywhere
	d := newTestDiscoverer(t)

	services := []ServiceEndpoint{{Name: "plain", Namespace: "default", InternalURL: srv.server.URL}}
	probed := d.ProbeOpenAPIEndpoints(context.Background(), services)

	ep := probed[0]
	if ep.HasOpenAPI {
		t.Error("HasOpenAPI = true, want false")
	}
	if ep.Err != nil {
		t.Errorf("Err = %v, want nil: a service without a spec is the expected case", ep.Err)
	}
	if reqs := srv.recorded(); len(reqs) != len(commonSpecPaths) {
		t.Errorf("got %d requests, want all %d common paths tried", len(reqs), len(commonSpecPaths))
	}
}

func TestProbeOpenAPIEndpoints_records_error_when_every_path_fails(t *testing.T) {
	d := newTestDiscoverer(t)

	// Nothing listens here; every probe fails with a connection error.
	services := []ServiceEndpoint{{Name: "down", Namespace: "default", InternalURL: "http://127.0.0.1:1"}}
	probed := d.ProbeOpenAPIEndpoints(context.Background(), services)

	ep := probed[0]
	if ep.HasOpenAPI {
		t.Error("HasOpenAPI = true, want false")
	}
	if ep.Err == nil {
		t.Error("Err = nil, want recorded error when all paths fail unexpectedly")
	}
}

func TestProbeOpenAPIEndpoints_rejects_wrong_content_type(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(testOpenAPI3)) //nolint:errcheck
	}))
	t.Cleanup(server.Close)

	d := newTestDiscoverer(t)
	services := []ServiceEndpoint{{Name: "html", Namespace: "default", InternalURL: server.URL}}
	probed := d.ProbeOpenAPIEndpoints(context.Background(), services)

	if probed[0].HasOpenAPI {
		t.Error("HasOpenAPI = true, want false for non-JSON content type")
	}
	if probed[0].Err != nil {
		t.Errorf("Err = %v, want nil", probed[0].Err)
	}
}

func TestProbeOpenAPIEndpoints_sets_probe_headers(t *testing.T) {
	var gotAccept, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(testOpenAPI3)) //nolint:errcheck
	}))
	t.Cleanup(server.Close)

	d := newTestDiscoverer(t)
	d.ProbeOpenAPIEndpoints(context.Background(), []ServiceEndpoint{
		{Name: "orders", Namespace: "default", InternalURL: server.URL},
	})

	if gotAccept != "application/json" {
		t.Errorf("Accept = %q, want application/json", gotAccept)
	}
	if gotAgent != userAgent {
		t.Errorf("User-Agent = %q, want %q", gotAgent, userAgent)
	}
}

func TestProbeOpenAPIEndpoints_skips_graphql_native_services(t *testing.T) {
	srv := newSpecServer(t, testOpenAPI3, "/openapi.json")
	d := newTestDiscoverer(t)

	services := []ServiceEndpoint{{
		Name:        "graph",
		Namespace:   "default",
		InternalURL: srv.server.URL,
		Annotations: map[string]string{ProtocolAnnotation: ProtocolGraphQL},
	}}
	probed := d.ProbeOpenAPIEndpoints(context.Background(), services)

	if probed[0].HasOpenAPI {
		t.Error("HasOpenAPI = true, want false: GraphQL-native services are not probed")
	}
	if reqs := srv.recorded(); len(reqs) != 0 {
		t.Errorf("requests = %v, want none for a GraphQL-native service", reqs)
	}
}

func TestProbeOpenAPIEndpoints_end_to_end_two_services(t *testing.T) {
	// One service publishes a valid OpenAPI 3.0 document at /openapi.json,
	// the other returns 404 everywhere.
	good := newSpecServer(t, testOpenAPI3, "/openapi.json")
	bad := newSpecServer(t, testOpenAPI3)
	d := newTestDiscoverer(t)

	services := []ServiceEndpoint{
		{Name: "orders", Namespace: "default", InternalURL: good.server.URL},
		{Name: "plain", Namespace: "default", InternalURL: bad.server.URL},
	}
	probed := d.ProbeOpenAPIEndpoints(context.Background(), services)

	if len(probed) != 2 {
		t.Fatalf("got %d endpoints, want 2", len(probed))
	}
	if !probed[0].HasOpenAPI || probed[0].Err != nil {
		t.Errorf("orders: HasOpenAPI=%v Err=%v, want true/nil", probed[0].HasOpenAPI, probed[0].Err)
	}
	if probed[1].HasOpenAPI || probed[1].Err != nil {
		t.Errorf("plain: HasOpenAPI=%v Err=%v, want false/nil", probed[1].HasOpenAPI, probed[1].Err)
	}
}
