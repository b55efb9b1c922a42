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
	"net/http"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/meshd/internal/knative"
)

// probeTimeout bounds each OpenAPI probe request
const probeTimeout = 10 * time.Second

// Discoverer produces a snapshot of candidate backend services and probes
// each for a machine-readable API description.
type Discoverer struct {
	client     client.Client
	httpClient *http.Client

	// namespace scopes listings; empty means all namespaces.
	namespace string
}

// NewDiscoverer creates a Discoverer backed by the given Kubernetes client.
// An empty namespace discovers across all namespaces.
func NewDiscoverer(c client.Client, namespace string) *Discoverer {
	return &Discoverer{
		client:     c,
		namespace:  namespace,
		httpClient: &http.Client{Timeout: probeTimeout},
	}
}

// DiscoverKnativeServices lists Knative Services matching the label selector
// and normalizes them into endpoint records. Services that have not been
// assigned a URL yet are excluded. A failed list call is returned as a
// DiscoveryError.
func (d *Discoverer) DiscoverKnativeServices(ctx context.Context, selector string) ([]ServiceEndpoint, error) {
	opts, err := d.listOptions(selector)
	if err != nil {
		return nil, &DiscoveryError{Source: "knative", Err: err}
	}

	var list knative.ServiceList
	if err := d.client.List(ctx, &list, opts...); err != nil {
		return nil, &DiscoveryError{Source: "knative", Err: err}
	}

	endpoints := make([]ServiceEndpoint, 0, len(list.Items))
	for i := range list.Items {
		svc := &list.Items[i]
		if svc.Status.URL == "" {
			// Not routable yet; it will show up on a later tick.
			continue
		}
		endpoints = append(endpoints, ServiceEndpoint{
			Name:      svc.Name,
			Namespace: svc.Namespace,
			URL:       svc.Status.URL,
			// Knative routes in-cluster traffic on the default HTTP port.
			InternalURL: fmt.Sprintf("http://%s.%s.svc.cluster.local", svc.Name, svc.Namespace),
			Ready:       svc.IsReady(),
			Labels:      svc.Labels,
			Annotations: svc.Annotations,
		})
	}
	return endpoints, nil
}

// DiscoverRegularServices lists plain Kubernetes Services matching the label
// selector. The probe port is the first port named "http"/"http-web" or
// numbered 80/8080, falling back to the first declared port; services with no
// ports at all are skipped.
func (d *Discoverer) DiscoverRegularServices(ctx context.Context, selector string) ([]ServiceEndpoint, error) {
	opts, err := d.listOptions(selector)
	if err != nil {
		return nil, &DiscoveryError{Source: "services", Err: err}
	}

	var list corev1.ServiceList
	if err := d.client.List(ctx, &list, opts...); err != nil {
		return nil, &DiscoveryError{Source: "services", Err: err}
	}

	endpoints := make([]ServiceEndpoint, 0, len(list.Items))
	for i := range list.Items {
		svc := &list.Items[i]
		port, ok := selectServicePort(svc.Spec.Ports)
		if !ok {
			continue
		}
		endpoints = append(endpoints, ServiceEndpoint{
			Name:        svc.Name,
			Namespace:   svc.Namespace,
			InternalURL: fmt.Sprintf("http://%s.%s.svc.cluster.local:%d", svc.Name, svc.Namespace, port),
			Ready:       true,
			Labels:      svc.Labels,
			Annotations: svc.Annotations,
		})
	}
	return endpoints, nil
}

// DiscoverAllServices runs Knative and regular service discovery concurrently
// and concatenates the results. A failure in one source degrades to an empty
// list from that source so discovery stays available when, for example, the
// Knative CRDs are not installed; only when both sources fail does the call
// return an error. Results are not deduplicated: a Knative service's
// underlying Service object can legitimately appear twice.
func (d *Discoverer) DiscoverAllServices(ctx context.Context, selector string) ([]ServiceEndpoint, error) {
	logger := log.FromContext(ctx)

	var (
		wg       sync.WaitGroup
		knatives []ServiceEndpoint
		regulars []ServiceEndpoint
		knErr    error
		svcErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		knatives, knErr = d.DiscoverKnativeServices(ctx, selector)
	}()
	go func() {
		defer wg.Done()
		regulars, svcErr = d.DiscoverRegularServices(ctx, selector)
	}()
	wg.Wait()

	if knErr != nil && svcErr != nil {
		return nil, fmt.Errorf("all discovery sources failed: %v; %v", knErr, svcErr)
	}
	if knErr != nil {
		logger.Error(knErr, "Knative discovery unavailable, continuing with regular services only")
		knatives = nil
	}
	if svcErr != nil {
		logger.Error(svcErr, "Service discovery unavailable, continuing with Knative services only")
		regulars = nil
	}

	all := make([]ServiceEndpoint, 0, len(knatives)+len(regulars))
	all = append(all, knatives...)
	all = append(all, regulars...)
	return all, nil
}

// listOptions builds the namespace and label-selector list options
func (d *Discoverer) listOptions(selector string) ([]client.ListOption, error) {
	var opts []client.ListOption
	if d.namespace != "" {
		opts = append(opts, client.InNamespace(d.namespace))
	}
	if selector != "" {
		sel, err := labels.Parse(selector)
		if err != nil {
			return nil, fmt.Errorf("invalid label selector %q: %w", selector, err)
		}
		opts = append(opts, client.MatchingLabelsSelector{Selector: sel})
	}
	return opts, nil
}

// selectServicePort picks the port used for probing: the first port named
// "http"/"http-web" or numbered 80/8080, else the first declared port.
func selectServicePort(ports []corev1.ServicePort) (int32, bool) {
	if len(ports) == 0 {
		return 0, false
	}
	for _, p := range ports {
		if p.Name == "http" || p.Name == "http-web" || p.Port == 80 || p.Port == 8080 {
			return p.Port, true
		}
	}
	return ports[0].Port, true
}
