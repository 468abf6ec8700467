package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"yarrow/pkg/config"
	"yarrow/pkg/deploy/ec2"
	"yarrow/pkg/deploy/gce"
	"yarrow/pkg/deploy/k8s"
	"yarrow/pkg/interfaces"
)

// FleetFactory creates a cloud fleet client from configuration
type FleetFactory func(ctx context.Context, cfg *config.Config) (interfaces.CloudFleetClient, error)

var (
	mu             sync.RWMutex
	fleetFactories = map[string]FleetFactory{}
)

// RegisterFleetProvider registers new fleet provider factory
func RegisterFleetProvider(name string, factory FleetFactory) {
	if name == "" || factory == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fleetFactories[strings.ToLower(name)] = factory
}

func init() {
	RegisterFleetProvider("gce", func(ctx context.Context, cfg *config.Config) (interfaces.CloudFleetClient, error) {
		return gce.NewClient(ctx, cfg.Cloud.GCE, cfg.Fleet.NamePrefix)
	})
	RegisterFleetProvider("ec2", func(ctx context.Context, cfg *config.Config) (interfaces.CloudFleetClient, error) {
		return ec2.NewClient(ctx, cfg.Cloud.EC2, cfg.Fleet.NamePrefix)
	})
	k8sFactory := func(ctx context.Context, cfg *config.Config) (interfaces.CloudFleetClient, error) {
		return k8s.NewClient(ctx, cfg.Cloud.K8s, cfg.Fleet.NamePrefix)
	}
	RegisterFleetProvider("k8s", k8sFactory)
	RegisterFleetProvider("kubernetes", k8sFactory)
}

// Providers returns the registered provider names
func Providers() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(fleetFactories))
	for name := range fleetFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateFleetClient creates the fleet client of cfg.Cloud.Provider
func CreateFleetClient(ctx context.Context, cfg *config.Config) (interfaces.CloudFleetClient, error) {
	mu.RLock()
	factory, ok := fleetFactories[strings.ToLower(cfg.Cloud.Provider)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported cloud provider %q (known: %s)", cfg.Cloud.Provider, strings.Join(Providers(), ", "))
	}

	client, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s fleet client: %w", cfg.Cloud.Provider, err)
	}
	return client, nil
}
