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
	"context"
	"errors"
	"strings"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/mikelane/meshd/internal/discovery"
	"github.com/mikelane/meshd/internal/openapi"
)

const sampleOpenAPI3 = `{
	"openapi": "3.0.3",
	"info": {"title": "Orders API", "version": "1.0.0"},
	"paths": {
		"/orders": {
			"get": {"operationId": "listOrders", "summary": "List orders", "responses": {"200": {"description": "ok"}}},
			"post": {"operationId": "createOrder", "responses": {"201": {"description": "created"}}}
		}
	}
}`

func openAPIEndpoint(name, namespace string) discovery.ServiceEndpoint {
	doc := openapi.Classify([]byte(sampleOpenAPI3))
	return discovery.ServiceEndpoint{
		Name:        name,
		Namespace:   namespace,
		InternalURL: "http://" + name + "." + namespace + ".svc.cluster.local",
		Ready:       true,
		HasOpenAPI:  true,
		OpenAPISpec: &doc,
		OpenAPIURL:  "/openapi.json",
	}
}

func graphQLEndpoint(name, namespace string) discovery.ServiceEndpoint {
	return discovery.ServiceEndpoint{
		Name:        name,
		Namespace:   namespace,
		InternalURL: "http://" + name + "." + namespace + ".svc.cluster.local",
		Ready:       true,
		Annotations: map[string]string{discovery.ProtocolAnnotation: discovery.ProtocolGraphQL},
	}
}

var _ = Describe("BuildConfiguration", func() {
	It("builds a remote-schema source for GraphQL-native services", func() {
		cfg := BuildConfiguration([]discovery.ServiceEndpoint{graphQLEndpoint("graph", "default")})

		Expect(cfg.Sources).To(HaveLen(1))
		Expect(cfg.Sources[0].Name).To(Equal("graph"))
		Expect(cfg.Sources[0].Handler.GraphQL).NotTo(BeNil())
		Expect(cfg.Sources[0].Handler.GraphQL.Endpoint).
			To(Equal("http://graph.default.svc.cluster.local/graphql"))
		Expect(cfg.Sources[0].Handler.OpenAPI).To(BeNil())
	})

	It("builds an openapi-wrapper source for services with an accepted spec", func() {
		cfg := BuildConfiguration([]discovery.ServiceEndpoint{openAPIEndpoint("orders", "default")})

		Expect(cfg.Sources).To(HaveLen(1))
		handler := cfg.Sources[0].Handler.OpenAPI
		Expect(handler).NotTo(BeNil())
		Expect(handler.Endpoint).To(Equal("http://orders.default.svc.cluster.local"))
		Expect(handler.Source).To(Equal("/openapi.json"))
		Expect(handler.Dialect).To(Equal("openapi3"))

		fields := make([]string, 0, len(handler.Operations))
		for _, op := range handler.Operations {
			fields = append(fields, op.Field)
		}
		Expect(fields).To(ConsistOf("orders_listOrders", "orders_createOrder"))
	})

	It("leaves out services with neither a spec nor a GraphQL annotation", func() {
		cfg := BuildConfiguration([]discovery.ServiceEndpoint{
			{Name: "plain", Namespace: "default", InternalURL: "http://plain.default.svc.cluster.local"},
		})
		Expect(cfg.Sources).To(BeEmpty())
	})

	It("preserves duplicate entries instead of deduplicating", func() {
		cfg := BuildConfiguration([]discovery.ServiceEndpoint{
			openAPIEndpoint("orders", "default"),
			openAPIEndpoint("orders", "default"),
		})
		Expect(cfg.Sources).To(HaveLen(2))
	})

	It("is deterministic for equal snapshots", func() {
		services := []discovery.ServiceEndpoint{
			openAPIEndpoint("orders", "default"),
			graphQLEndpoint("graph", "default"),
		}
		first := BuildConfiguration(services)
		second := BuildConfiguration(services)
		Expect(second).To(Equal(first))
	})
})

var _ = Describe("RenderSDL", func() {
	It("declares one Query field per wrapped operation", func() {
		cfg := BuildConfiguration([]discovery.ServiceEndpoint{openAPIEndpoint("orders", "default")})
		sdl := RenderSDL(cfg)

		Expect(sdl).To(ContainSubstring("type Query {"))
		Expect(sdl).To(ContainSubstring("orders_listOrders: JSON"))
		Expect(sdl).To(ContainSubstring("orders_createOrder: JSON"))
	})

	It("mentions remote schemas", func() {
		cfg := BuildConfiguration([]discovery.ServiceEndpoint{graphQLEndpoint("graph", "default")})
		sdl := RenderSDL(cfg)

		Expect(sdl).To(ContainSubstring(`remote schema "graph"`))
	})

	It("renders a placeholder Query for an empty configuration", func() {
		sdl := RenderSDL(&Configuration{})
		Expect(sdl).To(ContainSubstring("_empty: Boolean"))
	})
})

var _ = Describe("Manager", func() {
	var (
		ctx        context.Context
		fakeClient client.Client
		manager    *Manager
		writes     *atomic.Int64
	)

	newFakeClient := func(failWrites bool) client.Client {
		scheme := runtime.NewScheme()
		Expect(clientgoscheme.AddToScheme(scheme)).To(Succeed())

		funcs := interceptor.Funcs{
			Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
				if failWrites {
					return errors.New("etcdserver: request timed out")
				}
				writes.Add(1)
				return c.Create(ctx, obj, opts...)
			},
			Update: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.UpdateOption) error {
				if failWrites {
					return errors.New("etcdserver: request timed out")
				}
				writes.Add(1)
				return c.Update(ctx, obj, opts...)
			},
		}
		return fake.NewClientBuilder().WithScheme(scheme).WithInterceptorFuncs(funcs).Build()
	}

	BeforeEach(func() {
		ctx = context.Background()
		writes = &atomic.Int64{}
		fakeClient = newFakeClient(false)
		manager = NewManager(fakeClient, "default", "meshd-gateway-config")
	})

	Describe("UpdateConfiguration", func() {
		It("writes once and reports unchanged on an identical second snapshot", func() {
			services := []discovery.ServiceEndpoint{openAPIEndpoint("orders", "default")}

			changed, err := manager.UpdateConfiguration(ctx, services)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())

			changed, err = manager.UpdateConfiguration(ctx, services)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())

			Expect(writes.Load()).To(Equal(int64(1)), "identical snapshots must persist exactly once")
		})

		It("persists the rendered document and schema stub to the ConfigMap", func() {
			_, err := manager.UpdateConfiguration(ctx, []discovery.ServiceEndpoint{openAPIEndpoint("orders", "default")})
			Expect(err).NotTo(HaveOccurred())

			var cm corev1.ConfigMap
			Expect(fakeClient.Get(ctx, types.NamespacedName{Namespace: "default", Name: "meshd-gateway-config"}, &cm)).
				To(Succeed())
			Expect(cm.Data).To(HaveKey(ConfigKey))
			Expect(cm.Data).To(HaveKey(SchemaKey))
			Expect(cm.Data[ConfigKey]).To(ContainSubstring("name: orders"))
			Expect(cm.Data[SchemaKey]).To(ContainSubstring("orders_listOrders"))
		})

		It("writes again when the snapshot changes", func() {
			_, err := manager.UpdateConfiguration(ctx, []discovery.ServiceEndpoint{openAPIEndpoint("orders", "default")})
			Expect(err).NotTo(HaveOccurred())

			changed, err := manager.UpdateConfiguration(ctx, []discovery.ServiceEndpoint{
				openAPIEndpoint("orders", "default"),
				graphQLEndpoint("graph", "default"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(writes.Load()).To(Equal(int64(2)))
		})

		It("recomputes from scratch so removed services drop out", func() {
			_, err := manager.UpdateConfiguration(ctx, []discovery.ServiceEndpoint{
				openAPIEndpoint("orders", "default"),
				graphQLEndpoint("graph", "default"),
			})
			Expect(err).NotTo(HaveOccurred())

			changed, err := manager.UpdateConfiguration(ctx, []discovery.ServiceEndpoint{graphQLEndpoint("graph", "default")})
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())

			var cm corev1.ConfigMap
			Expect(fakeClient.Get(ctx, types.NamespacedName{Namespace: "default", Name: "meshd-gateway-config"}, &cm)).
				To(Succeed())
			Expect(cm.Data[ConfigKey]).NotTo(ContainSubstring("orders"), "stale entries must not accumulate")
		})

		It("propagates persistence failures instead of reporting unchanged", func() {
			failing := NewManager(newFakeClient(true), "default", "meshd-gateway-config")

			changed, err := failing.UpdateConfiguration(ctx, []discovery.ServiceEndpoint{openAPIEndpoint("orders", "default")})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("persist"))
			Expect(changed).To(BeFalse())

			// The failed configuration must not be remembered as applied.
			Expect(failing.GetHealthStatus().ConfigExists).To(BeFalse())
		})
	})

	Describe("introspection", func() {
		It("reports stats after a publish", func() {
			_, err := manager.UpdateConfiguration(ctx, []discovery.ServiceEndpoint{
				openAPIEndpoint("orders", "default"),
				graphQLEndpoint("graph", "team-a"),
			})
			Expect(err).NotTo(HaveOccurred())

			stats := manager.GetStats()
			Expect(stats.ServiceCount).To(Equal(2))
			Expect(stats.SourceCount).To(Equal(2))
			Expect(stats.Services).To(ConsistOf("default/orders", "team-a/graph"))
			Expect(stats.LastUpdated.IsZero()).To(BeFalse())
		})

		It("reports health before and after a publish", func() {
			Expect(manager.GetHealthStatus().ConfigExists).To(BeFalse())

			_, err := manager.UpdateConfiguration(ctx, []discovery.ServiceEndpoint{openAPIEndpoint("orders", "default")})
			Expect(err).NotTo(HaveOccurred())

			health := manager.GetHealthStatus()
			Expect(health.ConfigExists).To(BeTrue())
			Expect(health.SourceCount).To(Equal(1))
		})

		It("serves the assembled schema", func() {
			_, ok := manager.Schema()
			Expect(ok).To(BeFalse())

			_, err := manager.UpdateConfiguration(ctx, []discovery.ServiceEndpoint{openAPIEndpoint("orders", "default")})
			Expect(err).NotTo(HaveOccurred())

			sdl, ok := manager.Schema()
			Expect(ok).To(BeTrue())
			Expect(strings.Contains(sdl, "type Query")).To(BeTrue())
		})
	})

	Describe("Cleanup", func() {
		It("is safe before any update", func() {
			Expect(func() { manager.Cleanup(ctx) }).NotTo(Panic())
		})

		It("clears cached state but leaves the ConfigMap published", func() {
			_, err := manager.UpdateConfiguration(ctx, []discovery.ServiceEndpoint{openAPIEndpoint("orders", "default")})
			Expect(err).NotTo(HaveOccurred())

			manager.Cleanup(ctx)
			Expect(manager.GetHealthStatus().ConfigExists).To(BeFalse())

			var cm corev1.ConfigMap
			Expect(fakeClient.Get(ctx, types.NamespacedName{Namespace: "default", Name: "meshd-gateway-config"}, &cm)).
				To(Succeed())
		})
	})
})
