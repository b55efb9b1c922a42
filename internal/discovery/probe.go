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
	"fmt"
	"io"
	"net/http"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/meshd/internal/openapi"
)

// userAgent identifies probe traffic in backend access logs
const userAgent = "meshd-discovery/1.0"

// maxSpecSize caps how much of a probe response is read (8 MiB)
const maxSpecSize = 8 << 20

// commonSpecPaths are the well-known locations tried for every service, in
// order, after any annotation-declared path.
var commonSpecPaths = []string{
	"/openapi.json",
	"/openapi",
	"/swagger.json",
	"/swagger",
	"/api/openapi.json",
	"/api/swagger.json",
	"/api/v1/openapi.json",
	"/v1/openapi.json",
	"/docs/openapi.json",
	"/.well-known/openapi.json",
	"/spec.json",
	"/api-docs",
}

// ProbeOpenAPIEndpoints probes each service for an API description document
// and returns the same endpoints with HasOpenAPI, OpenAPISpec, OpenAPIURL and
// Err filled in. Probing is strictly sequential per service and per path to
// bound load on the backends and to honor the declared-path-first precedence.
//
// A service where no path yields a valid spec is the normal case, not an
// error: HasOpenAPI stays false and Err stays nil. Err is populated only when
// every candidate path failed with a transport or read error.
func (d *Discoverer) ProbeOpenAPIEndpoints(ctx context.Context, services []ServiceEndpoint) []ServiceEndpoint {
	logger := log.FromContext(ctx)

	probed := make([]ServiceEndpoint, len(services))
	for i, svc := range services {
		if svc.IsGraphQLNative() {
			// Remote-schema candidate; no spec probing needed.
			probed[i] = svc
			continue
		}

		doc, path, err := d.findOpenAPISpec(ctx, &svc)
		if doc != nil {
			svc.HasOpenAPI = true
			svc.OpenAPISpec = doc
			svc.OpenAPIURL = path
			logger.V(1).Info("Found API description",
				"service", svc.Key(), "path", path, "dialect", doc.Kind.String())
		} else if err != nil {
			svc.Err = err
			logger.V(1).Info("Probing failed on every path",
				"service", svc.Key(), "error", err.Error())
		}
		probed[i] = svc
	}
	return probed
}

// findOpenAPISpec tries the candidate paths in order and returns the first
// accepted document together with the path it was found at. When no path
// matches, both return values are nil unless every single path failed with an
// unexpected error, in which case the last such error is returned.
func (d *Discoverer) findOpenAPISpec(ctx context.Context, svc *ServiceEndpoint) (*openapi.Document, string, error) {
	paths := candidatePaths(svc)

	var lastErr error
	errored := 0
	for _, path := range paths {
		doc, err := d.fetchSpec(ctx, svc.InternalURL+path)
		if err != nil {
			// Transport and read errors on one path never abort the scan.
			lastErr = err
			errored++
			continue
		}
		if doc == nil {
			continue
		}
		return doc, path, nil
	}

	if errored == len(paths) {
		return nil, "", fmt.Errorf("all %d probe paths failed: %w", len(paths), lastErr)
	}
	return nil, "", nil
}

// fetchSpec issues one probe request. It returns (nil, nil) when the path
// responded but did not carry an acceptable spec, and an error only for
// transport or read failures.
func (d *Discoverer) fetchSpec(ctx context.Context, url string) (*openapi.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxSpecSize)) //nolint:errcheck // draining for keep-alive
		return nil, nil
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxSpecSize)) //nolint:errcheck // draining for keep-alive
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSpecSize))
	if err != nil {
		return nil, err
	}

	doc := openapi.Classify(body)
	if doc.Kind == openapi.Unrecognized {
		return nil, nil
	}
	return &doc, nil
}

// candidatePaths returns the probe order for a service: the annotation
// override first when present, then the common fixed list.
func candidatePaths(svc *ServiceEndpoint) []string {
	if override, ok := svc.Annotations[OpenAPIPathAnnotation]; ok && override != "" {
		if !strings.HasPrefix(override, "/") {
			override = "/" + override
		}
		paths := make([]string, 0, len(commonSpecPaths)+1)
		paths = append(paths, override)
		return append(paths, commonSpecPaths...)
	}
	return commonSpecPaths
}
