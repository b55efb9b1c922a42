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

// Package discovery produces snapshots of candidate backend services and
// probes each for a machine-readable API description.
//
// # Sources
//
// Two Kubernetes resource types are discovered, filtered by a label selector
// and optionally scoped to one namespace:
//
//   - Knative Services (serving.knative.dev/v1): the externally reachable
//     URL comes from status.url and readiness from the Ready condition.
//     Services without a URL are excluded; they are not routable yet.
//   - Regular Services (core v1): probed on the first port named "http" or
//     "http-web" or numbered 80/8080, falling back to the first declared
//     port. Portless services are skipped.
//
// Both listings run concurrently and fail independently: a cluster without
// the Knative CRDs installed still discovers its regular services. Only when
// both sources fail does discovery report an error. Results are concatenated
// without deduplication.
//
// # Probing
//
// Each endpoint is probed for an OpenAPI 3.x or Swagger 2.0 document at a
// fixed ordered list of well-known paths. A service can pin the location with
// the discovery.meshd.io/openapi-path annotation, which is always tried
// first. Probing is sequential per service and per path: the order encodes
// precedence, and fanning out would hammer backends that are often tiny.
//
// Finding no spec is the normal case for most services and is not an error.
// The Err field on an endpoint is populated only when every candidate path
// failed with a transport error, so one unreachable backend never aborts the
// batch.
//
// # Usage
//
//	d := discovery.NewDiscoverer(k8sClient, "team-a")
//	services, err := d.DiscoverAllServices(ctx, "app.kubernetes.io/managed-by=kubevela")
//	if err != nil {
//	    return err
//	}
//	probed := d.ProbeOpenAPIEndpoints(ctx, services)
package discovery
