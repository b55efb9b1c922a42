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

// meshd discovers Kubernetes services exposing API descriptions and publishes
// a federated GraphQL mesh configuration for the gateway runtime.
package main

import (
	"flag"
	"os"

	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/mikelane/meshd/internal/config"
	"github.com/mikelane/meshd/internal/discovery"
	"github.com/mikelane/meshd/internal/gateway"
	"github.com/mikelane/meshd/internal/knative"
	"github.com/mikelane/meshd/internal/loop"
	"github.com/mikelane/meshd/internal/mesh"
)

var scheme = runtime.NewScheme()

func init() {
	utilMust(clientgoscheme.AddToScheme(scheme))
	utilMust(knative.AddToScheme(scheme))
}

func utilMust(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	var configPath string
	var devLogging bool
	flag.StringVar(&configPath, "config", "", "Path to an optional YAML config file.")
	flag.BoolVar(&devLogging, "dev-logging", false, "Enable human-readable development logging.")
	opts := zap.Options{Development: false}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()
	if devLogging {
		opts.Development = true
	}

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
	logger := ctrl.Log.WithName("meshd")

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error(err, "Invalid configuration")
		os.Exit(1)
	}

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		logger.Error(err, "Unable to load Kubernetes configuration")
		os.Exit(1)
	}
	k8sClient, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		logger.Error(err, "Unable to create Kubernetes client")
		os.Exit(1)
	}

	discoverer := discovery.NewDiscoverer(k8sClient, cfg.Namespace)
	meshManager := mesh.NewManager(k8sClient, publishNamespace(cfg), cfg.MeshConfigMapName)

	discoveryLoop, err := loop.New(discoverer, meshManager, loop.Options{
		Interval:   cfg.Interval(),
		Selector:   cfg.ServiceSelectorLabels,
		RetryDelay: cfg.RetryInterval(),
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		logger.Error(err, "Unable to create discovery loop")
		os.Exit(1)
	}

	server := gateway.NewServer(gateway.Options{
		Addr:             cfg.ListenAddr(),
		EnablePlayground: cfg.EnablePlayground,
		CORSOrigins:      cfg.CORSOrigins,
	}, meshManager, discoveryLoop)

	ctx := ctrl.SetupSignalHandler()

	if cfg.AutoDiscovery {
		discoveryLoop.Start(ctx)
		defer discoveryLoop.Stop()
	} else {
		logger.Info("Auto discovery disabled; use POST /discovery/refresh to run ticks")
	}

	logger.Info("Starting gateway",
		"addr", cfg.ListenAddr(),
		"namespace", cfg.Namespace,
		"selector", cfg.ServiceSelectorLabels,
		"interval", cfg.Interval(),
		"autoDiscovery", cfg.AutoDiscovery)

	if err := server.Start(ctx); err != nil {
		logger.Error(err, "Gateway server failed")
		os.Exit(1)
	}
}

// publishNamespace is where the mesh ConfigMap lives. Discovery may span all
// namespaces, but the artifact needs a concrete home; fall back to "default"
// when no namespace is configured.
func publishNamespace(cfg *config.Config) string {
	if cfg.Namespace != "" {
		return cfg.Namespace
	}
	return "default"
}
