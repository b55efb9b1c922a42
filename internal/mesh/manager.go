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
	"fmt"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/meshd/internal/discovery"
)

const (
	// ConfigKey is the ConfigMap data key holding the rendered mesh document
	ConfigKey = "meshrc.yaml"

	// SchemaKey is the ConfigMap data key holding the assembled schema stub
	SchemaKey = "schema.graphql"

	managedByLabel = "meshd"
)

// Manager converts probed endpoint snapshots into a federation configuration
// and publishes it to a ConfigMap, writing only when the content actually
// changed so downstream reconciliation is not churned on no-op ticks.
type Manager struct {
	client        client.Client
	namespace     string
	configMapName string

	mu          sync.Mutex
	lastApplied *Configuration
	lastSDL     string
	serviceKeys []string
	lastUpdated time.Time
}

// NewManager creates a mesh configuration manager publishing into the given
// namespace/ConfigMap.
func NewManager(c client.Client, namespace, configMapName string) *Manager {
	return &Manager{
		client:        c,
		namespace:     namespace,
		configMapName: configMapName,
	}
}

// UpdateConfiguration recomputes the federation configuration from the given
// snapshot and persists it when it differs structurally from the last applied
// one. It returns true when a write happened. A persistence failure is
// returned as an error and must not be mistaken for "unchanged"; the caller's
// retry machinery owns that failure.
func (m *Manager) UpdateConfiguration(ctx context.Context, services []discovery.ServiceEndpoint) (bool, error) {
	logger := log.FromContext(ctx)

	cfg := BuildConfiguration(services)

	m.mu.Lock()
	unchanged := m.lastApplied != nil && cmp.Equal(m.lastApplied, cfg)
	m.mu.Unlock()

	if unchanged {
		logger.V(1).Info("Mesh configuration unchanged", "sources", len(cfg.Sources))
		return false, nil
	}

	sdl := RenderSDL(cfg)
	if err := m.persist(ctx, cfg, sdl); err != nil {
		return false, fmt.Errorf("failed to persist mesh configuration: %w", err)
	}

	m.mu.Lock()
	m.lastApplied = cfg
	m.lastSDL = sdl
	m.serviceKeys = serviceKeys(services)
	m.lastUpdated = time.Now()
	m.mu.Unlock()

	logger.Info("Published mesh configuration",
		"sources", len(cfg.Sources), "configMap", m.configMapName)
	return true, nil
}

// persist writes the rendered document and schema stub into the ConfigMap.
// CreateOrUpdate swaps the whole Data map in one API call, so a concurrent
// reader sees either the previous or the new configuration, never a mix.
func (m *Manager) persist(ctx context.Context, cfg *Configuration, sdl string) error {
	rendered, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to render mesh document: %w", err)
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      m.configMapName,
			Namespace: m.namespace,
		},
	}

	_, err = controllerutil.CreateOrUpdate(ctx, m.client, cm, func() error {
		if cm.Labels == nil {
			cm.Labels = make(map[string]string)
		}
		cm.Labels["app.kubernetes.io/managed-by"] = managedByLabel
		cm.Data = map[string]string{
			ConfigKey: string(rendered),
			SchemaKey: sdl,
		}
		return nil
	})
	return err
}

// Stats is a read-only snapshot of the manager's state
type Stats struct {
	// ServiceCount is the number of endpoints in the last applied snapshot.
	ServiceCount int

	// Services lists the namespace/name keys of those endpoints.
	Services []string

	// SourceCount is the number of federated sources in the configuration.
	SourceCount int

	// LastUpdated is when a configuration was last persisted.
	LastUpdated time.Time
}

// GetStats reports the current configuration statistics. Informational only;
// nothing in the control flow depends on it.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		ServiceCount: len(m.serviceKeys),
		Services:     append([]string(nil), m.serviceKeys...),
		LastUpdated:  m.lastUpdated,
	}
	if m.lastApplied != nil {
		stats.SourceCount = len(m.lastApplied.Sources)
	}
	return stats
}

// HealthStatus reports whether a mesh configuration has been published
type HealthStatus struct {
	ConfigExists bool
	SourceCount  int
}

// GetHealthStatus reports configuration existence for readiness checks
func (m *Manager) GetHealthStatus() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := HealthStatus{ConfigExists: m.lastApplied != nil}
	if m.lastApplied != nil {
		status.SourceCount = len(m.lastApplied.Sources)
	}
	return status
}

// Schema returns the last assembled schema stub and whether one exists
func (m *Manager) Schema() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSDL, m.lastApplied != nil
}

// ConfigYAML returns the last rendered mesh document and whether one exists
func (m *Manager) ConfigYAML() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastApplied == nil {
		return "", false
	}
	rendered, err := yaml.Marshal(m.lastApplied)
	if err != nil {
		return "", false
	}
	return string(rendered), true
}

// Cleanup releases manager state on loop shutdown. Safe to call at any point,
// including before the first update; the published ConfigMap is left in place
// for the gateway runtime.
func (m *Manager) Cleanup(ctx context.Context) {
	log.FromContext(ctx).V(1).Info("Mesh manager cleanup")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastApplied = nil
	m.lastSDL = ""
	m.serviceKeys = nil
}

func serviceKeys(services []discovery.ServiceEndpoint) []string {
	keys := make([]string, 0, len(services))
	for i := range services {
		keys = append(keys, services[i].Key())
	}
	return keys
}
