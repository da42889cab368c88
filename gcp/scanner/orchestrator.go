// Package scanner drives the two-level fan-out that turns a scan
// target into a Topology: an outer pool over projects and, inside each
// project scan, an inner pool over resource kinds.
package scanner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
	addressservice "github.com/sz9751210/gcp-network-tool/gcp/services/addressService"
	computeengineservice "github.com/sz9751210/gcp-network-tool/gcp/services/computeEngineService"
	firewallservice "github.com/sz9751210/gcp-network-tool/gcp/services/firewallService"
	gkeservice "github.com/sz9751210/gcp-network-tool/gcp/services/gkeService"
	loadbalancerservice "github.com/sz9751210/gcp-network-tool/gcp/services/loadbalancerService"
	networkservice "github.com/sz9751210/gcp-network-tool/gcp/services/networkService"
	projectservice "github.com/sz9751210/gcp-network-tool/gcp/services/projectService"
	storageservice "github.com/sz9751210/gcp-network-tool/gcp/services/storageService"
	"github.com/sz9751210/gcp-network-tool/globals"
	"github.com/sz9751210/gcp-network-tool/internal"
	gcpinternal "github.com/sz9751210/gcp-network-tool/internal/gcp"
)

// ScanOptions toggles the optional resource kinds and sizes the pools.
type ScanOptions struct {
	ScanInstances bool
	ScanGKE       bool
	ScanWorkloads bool
	ScanBuckets   bool

	ProjectWorkers  int
	ResourceWorkers int
}

// DefaultScanOptions scans everything with the default pool sizes.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		ScanInstances:   true,
		ScanGKE:         true,
		ScanWorkloads:   true,
		ScanBuckets:     true,
		ProjectWorkers:  globals.DEFAULT_PROJECT_WORKERS,
		ResourceWorkers: globals.DEFAULT_RESOURCE_WORKERS,
	}
}

// ProjectResult bundles everything one project scan produced.
type ProjectResult struct {
	Project          models.Project
	PublicIPs        []models.Address
	InternalIPs      []models.Address
	FirewallRules    []models.FirewallRule
	SecurityPolicies []models.SecurityPolicy
	BackendServices  []models.BackendService
}

// The per-kind seams the orchestrator scans through. Production wiring
// is the service packages; tests substitute fakes.
type metadataFetcher interface {
	GetProjectDetails(ctx context.Context, projectID string) (projectservice.ProjectInfo, error)
}

type networkScanner interface {
	Networks(ctx context.Context, projectID string) ([]models.VPCNetwork, error)
}

type firewallScanner interface {
	FirewallRules(ctx context.Context, projectID string) ([]models.FirewallRule, error)
	SecurityPolicies(ctx context.Context, projectID string) ([]models.SecurityPolicy, error)
}

type addressScanner interface {
	CollectAddresses(ctx context.Context, projectID string, kind models.AddressKind, resolver addressservice.LBResolver, subnetNetworks map[string]string) ([]models.Address, error)
}

type instanceScanner interface {
	Instances(ctx context.Context, projectID string) ([]models.Instance, error)
}

type clusterScanner interface {
	Clusters(ctx context.Context, projectID string, withWorkloads bool) ([]models.GKECluster, error)
}

type bucketScanner interface {
	Buckets(ctx context.Context, projectID string) ([]models.GCSBucket, error)
}

type lbResolver interface {
	addressservice.LBResolver
	Prefetch(ctx context.Context, projectID string) error
	CollectBackendServices(ctx context.Context, projectID string, ipsByKey map[string][]string) ([]models.BackendService, error)
}

// ProjectOrchestrator runs all enabled resource scans for one project.
type ProjectOrchestrator struct {
	projects  metadataFetcher
	networks  networkScanner
	firewalls firewallScanner
	addresses addressScanner
	instances instanceScanner
	clusters  clusterScanner
	buckets   bucketScanner
	lb        lbResolver
	logger    internal.Logger
}

// NewProjectOrchestrator wires the production services onto a session.
func NewProjectOrchestrator(session *gcpinternal.SafeSession) *ProjectOrchestrator {
	return &ProjectOrchestrator{
		projects:  projectservice.NewWithSession(session),
		networks:  networkservice.NewWithSession(session),
		firewalls: firewallservice.NewWithSession(session),
		addresses: addressservice.NewWithSession(session),
		instances: computeengineservice.NewWithSession(session),
		clusters:  gkeservice.NewWithSession(session),
		buckets:   storageservice.NewWithSession(session),
		lb:        loadbalancerservice.NewWithSession(session),
		logger:    internal.NewLogger(),
	}
}

// ScanProject scans one project. The metadata fetch is the access
// probe: if it fails nothing else is attempted. After that, individual
// resource kinds fail independently; their errors are folded into the
// project's error message without failing the scan. A panic anywhere
// in the sequence degrades to an error-status result.
func (po *ProjectOrchestrator) ScanProject(ctx context.Context, projectID string, opts ScanOptions) (result ProjectResult) {
	result.Project = models.Project{ProjectID: projectID, ScanStatus: models.ScanPending}

	defer func() {
		if r := recover(); r != nil {
			po.logger.ErrorMf(globals.GCP_SCANNER_MODULE_NAME, "panic scanning project %s: %v", projectID, r)
			result.Project.ScanStatus = models.ScanError
			result.Project.ErrorMessage = fmt.Sprintf("internal error: %v", r)
		}
	}()

	meta, err := po.projects.GetProjectDetails(ctx, projectID)
	if err != nil {
		if gcpinternal.IsPermissionDenied(err) || gcpinternal.IsAPINotEnabled(err) {
			result.Project.ScanStatus = models.ScanPermissionDenied
		} else {
			result.Project.ScanStatus = models.ScanError
		}
		result.Project.ErrorMessage = err.Error()
		po.logger.ErrorMf(globals.GCP_SCANNER_MODULE_NAME, "project %s unreachable: %v", projectID, err)
		return result
	}
	result.Project.ProjectName = meta.DisplayName
	result.Project.ProjectNumber = meta.ProjectNumber

	// Proxy and backend objects are read repeatedly while resolving
	// addresses; one listing pass up front avoids refetching.
	if err := po.lb.Prefetch(ctx, projectID); err != nil {
		po.logger.ErrorMf(globals.GCP_SCANNER_MODULE_NAME, "lb prefetch for %s: %v", projectID, err)
	}

	var kindErrs []string
	var mu sync.Mutex
	fail := func(kind string, err error) {
		po.logger.ErrorMf(globals.GCP_SCANNER_MODULE_NAME, "%s scan for %s: %v", kind, projectID, err)
		mu.Lock()
		kindErrs = append(kindErrs, fmt.Sprintf("%s: %v", kind, err))
		mu.Unlock()
	}

	// Networks go first: internal address resolution needs the subnet
	// link -> network name map before the address tasks start.
	subnetNetworks := make(map[string]string)
	networks, err := po.networks.Networks(ctx, projectID)
	if err != nil {
		fail("network", err)
	} else {
		result.Project.VPCNetworks = networks
		for _, n := range networks {
			for _, sn := range n.Subnets {
				subnetNetworks[sn.SelfLink] = n.Name
			}
		}
	}

	workers := opts.ResourceWorkers
	if workers <= 0 {
		workers = globals.DEFAULT_RESOURCE_WORKERS
	}
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)
	run := func(kind string, task func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			if err := task(); err != nil {
				fail(kind, err)
			}
		}()
	}

	run("public-address", func() error {
		addrs, err := po.addresses.CollectAddresses(ctx, projectID, models.AddressExternal, po.lb, subnetNetworks)
		if err != nil {
			return err
		}
		mu.Lock()
		result.PublicIPs = addrs
		mu.Unlock()
		return nil
	})
	run("internal-address", func() error {
		addrs, err := po.addresses.CollectAddresses(ctx, projectID, models.AddressInternal, po.lb, subnetNetworks)
		if err != nil {
			return err
		}
		mu.Lock()
		result.InternalIPs = addrs
		mu.Unlock()
		return nil
	})
	run("firewall", func() error {
		rules, err := po.firewalls.FirewallRules(ctx, projectID)
		if err != nil {
			return err
		}
		mu.Lock()
		result.FirewallRules = rules
		mu.Unlock()
		return nil
	})
	run("cloud-armor", func() error {
		policies, err := po.firewalls.SecurityPolicies(ctx, projectID)
		if err != nil {
			return err
		}
		mu.Lock()
		result.SecurityPolicies = policies
		mu.Unlock()
		return nil
	})
	if opts.ScanInstances {
		run("instance", func() error {
			instances, err := po.instances.Instances(ctx, projectID)
			if err != nil {
				return err
			}
			mu.Lock()
			result.Project.Instances = instances
			mu.Unlock()
			return nil
		})
	}
	if opts.ScanGKE {
		run("gke", func() error {
			clusters, err := po.clusters.Clusters(ctx, projectID, opts.ScanWorkloads)
			if err != nil {
				return err
			}
			mu.Lock()
			result.Project.GKEClusters = clusters
			mu.Unlock()
			return nil
		})
	}
	if opts.ScanBuckets {
		run("bucket", func() error {
			buckets, err := po.buckets.Buckets(ctx, projectID)
			if err != nil {
				return err
			}
			mu.Lock()
			result.Project.Buckets = buckets
			mu.Unlock()
			return nil
		})
	}
	wg.Wait()

	// Instances report their own ephemeral and NAT IPs; fold them into
	// the address lists under the per-kind merge invariant.
	extSet := models.NewAddressSet()
	for _, a := range result.PublicIPs {
		extSet.Add(a)
	}
	intSet := models.NewAddressSet()
	for _, a := range result.InternalIPs {
		intSet.Add(a)
	}
	instExt, instInt := computeengineservice.InstanceAddresses(result.Project.Instances)
	for _, a := range instExt {
		extSet.Add(a)
	}
	for _, a := range instInt {
		intSet.Add(a)
	}
	result.PublicIPs = extSet.Items()
	result.InternalIPs = intSet.Items()

	// Second pass: walk every resolved routing rule to learn which IPs
	// point at which backend service, then list the services with the
	// association attached.
	ipsByKey := backendServiceIPs(projectID, result.PublicIPs, result.InternalIPs)
	services, err := po.lb.CollectBackendServices(ctx, projectID, ipsByKey)
	if err != nil {
		fail("backend-service", err)
	} else {
		result.BackendServices = services
	}

	result.Project.ScanStatus = models.ScanSuccess
	if len(kindErrs) > 0 {
		result.Project.ErrorMessage = "partial: " + strings.Join(kindErrs, "; ")
	}
	return result
}

// backendServiceIPs builds the project|region|name -> [ip] association
// map from the addresses' resolved routing rules. Global backend
// services are keyed with an empty region, so each name is tried both
// under the address's region and globally.
func backendServiceIPs(projectID string, addressLists ...[]models.Address) map[string][]string {
	ipsByKey := make(map[string][]string)
	add := func(key, ip string) {
		for _, existing := range ipsByKey[key] {
			if existing == ip {
				return
			}
		}
		ipsByKey[key] = append(ipsByKey[key], ip)
	}
	for _, list := range addressLists {
		for _, addr := range list {
			if addr.Details == nil {
				continue
			}
			for _, rr := range addr.Details.RoutingRules {
				if rr.BackendService == "" {
					continue
				}
				add(loadbalancerservice.BackendServiceKey(projectID, addr.Region, rr.BackendService), addr.IPAddress)
				if addr.Region != "" {
					add(loadbalancerservice.BackendServiceKey(projectID, "", rr.BackendService), addr.IPAddress)
				}
			}
		}
	}
	return ipsByKey
}

// compile-time check that the production service satisfies the seam.
var _ lbResolver = (*loadbalancerservice.LoadBalancerService)(nil)
