package loadbalancerservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/compute/v1"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
	"github.com/sz9751210/gcp-network-tool/globals"
	"github.com/sz9751210/gcp-network-tool/internal"
	gcpinternal "github.com/sz9751210/gcp-network-tool/internal/gcp"
	"github.com/sz9751210/gcp-network-tool/internal/gcp/sdk"
)

// Load balancer resolution
// gcloud compute forwarding-rules describe
// gcloud compute url-maps describe
// gcloud compute backend-services describe

// ProxyKind identifies the target proxy flavor in front of a
// forwarding rule. Passthrough network load balancers have none.
type ProxyKind int

const (
	ProxyNone ProxyKind = iota
	ProxyHTTP
	ProxyHTTPS
	ProxyTCP
	ProxySSL
)

func (k ProxyKind) String() string {
	switch k {
	case ProxyHTTP:
		return "HTTP"
	case ProxyHTTPS:
		return "HTTPS"
	case ProxyTCP:
		return "TCP"
	case ProxySSL:
		return "SSL"
	default:
		return "PASSTHROUGH"
	}
}

// ProxyKindOf classifies a forwarding rule's target reference.
func ProxyKindOf(target string) ProxyKind {
	switch {
	case strings.Contains(target, "/targetHttpsProxies/"):
		return ProxyHTTPS
	case strings.Contains(target, "/targetHttpProxies/"):
		return ProxyHTTP
	case strings.Contains(target, "/targetTcpProxies/"):
		return ProxyTCP
	case strings.Contains(target, "/targetSslProxies/"):
		return ProxySSL
	default:
		return ProxyNone
	}
}

// proxyInfo is the normalized slice of a target proxy the resolver
// needs, regardless of flavor.
type proxyInfo struct {
	URLMap         string
	BackendService string
	Certificates   []string
	SSLPolicy      string
}

// PrefetchCache holds one project's proxies, URL maps, backend
// services, backend buckets and certificates, listed once up front so
// resolving many addresses does not refetch the same objects. Build it
// fully before handing it to concurrent consumers; it is not locked.
type PrefetchCache struct {
	Proxies         map[string]*proxyInfo              // key: proxy name
	URLMaps         map[string]*compute.UrlMap         // key: url map name
	BackendServices map[string]*compute.BackendService // key: backend service name
	BackendBuckets  map[string]*compute.BackendBucket  // key: backend bucket name
	Certificates    map[string]*compute.SslCertificate // key: certificate name
}

// NewPrefetchCache returns an empty cache.
func NewPrefetchCache() *PrefetchCache {
	return &PrefetchCache{
		Proxies:         make(map[string]*proxyInfo),
		URLMaps:         make(map[string]*compute.UrlMap),
		BackendServices: make(map[string]*compute.BackendService),
		BackendBuckets:  make(map[string]*compute.BackendBucket),
		Certificates:    make(map[string]*compute.SslCertificate),
	}
}

type LoadBalancerService struct {
	session *gcpinternal.SafeSession
	logger  internal.Logger
	cache   *PrefetchCache
}

// New creates a new LoadBalancerService (legacy - uses ADC directly)
func New() *LoadBalancerService {
	return &LoadBalancerService{logger: internal.NewLogger()}
}

// NewWithSession creates a LoadBalancerService with a SafeSession for managed authentication
func NewWithSession(session *gcpinternal.SafeSession) *LoadBalancerService {
	return &LoadBalancerService{session: session, logger: internal.NewLogger()}
}

// NewWithCache wires a prebuilt prefetch cache, used by tests and by
// the orchestrator after Prefetch.
func NewWithCache(cache *PrefetchCache) *LoadBalancerService {
	return &LoadBalancerService{logger: internal.NewLogger(), cache: cache}
}

func (ls *LoadBalancerService) getService(ctx context.Context) (*compute.Service, error) {
	if ls.session != nil {
		return sdk.CachedGetComputeService(ctx, ls.session)
	}
	return compute.NewService(ctx)
}

// Prefetch lists the project's proxies, URL maps, backend services,
// backend buckets and certificates into the service's cache. Errors on
// individual listings are logged and leave that map sparse; the
// resolver falls back to direct fetches for misses.
func (ls *LoadBalancerService) Prefetch(ctx context.Context, projectID string) error {
	computeService, err := ls.getService(ctx)
	if err != nil {
		return gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}

	cache := NewPrefetchCache()

	if list, err := computeService.TargetHttpProxies.List(projectID).Context(ctx).Do(); err == nil {
		for _, p := range list.Items {
			cache.Proxies[p.Name] = &proxyInfo{URLMap: p.UrlMap}
		}
	} else {
		ls.logger.ErrorMf(globals.GCP_LOADBALANCER_MODULE_NAME, "prefetch http proxies for %s: %v", projectID, err)
	}
	if list, err := computeService.TargetHttpsProxies.List(projectID).Context(ctx).Do(); err == nil {
		for _, p := range list.Items {
			cache.Proxies[p.Name] = &proxyInfo{URLMap: p.UrlMap, Certificates: p.SslCertificates, SSLPolicy: p.SslPolicy}
		}
	} else {
		ls.logger.ErrorMf(globals.GCP_LOADBALANCER_MODULE_NAME, "prefetch https proxies for %s: %v", projectID, err)
	}
	if list, err := computeService.TargetTcpProxies.List(projectID).Context(ctx).Do(); err == nil {
		for _, p := range list.Items {
			cache.Proxies[p.Name] = &proxyInfo{BackendService: p.Service}
		}
	} else {
		ls.logger.ErrorMf(globals.GCP_LOADBALANCER_MODULE_NAME, "prefetch tcp proxies for %s: %v", projectID, err)
	}
	if list, err := computeService.TargetSslProxies.List(projectID).Context(ctx).Do(); err == nil {
		for _, p := range list.Items {
			cache.Proxies[p.Name] = &proxyInfo{BackendService: p.Service, Certificates: p.SslCertificates, SSLPolicy: p.SslPolicy}
		}
	} else {
		ls.logger.ErrorMf(globals.GCP_LOADBALANCER_MODULE_NAME, "prefetch ssl proxies for %s: %v", projectID, err)
	}

	if list, err := computeService.UrlMaps.List(projectID).Context(ctx).Do(); err == nil {
		for _, m := range list.Items {
			cache.URLMaps[m.Name] = m
		}
	} else {
		ls.logger.ErrorMf(globals.GCP_LOADBALANCER_MODULE_NAME, "prefetch url maps for %s: %v", projectID, err)
	}
	if list, err := computeService.BackendServices.List(projectID).Context(ctx).Do(); err == nil {
		for _, b := range list.Items {
			cache.BackendServices[b.Name] = b
		}
	} else {
		ls.logger.ErrorMf(globals.GCP_LOADBALANCER_MODULE_NAME, "prefetch backend services for %s: %v", projectID, err)
	}
	if list, err := computeService.BackendBuckets.List(projectID).Context(ctx).Do(); err == nil {
		for _, b := range list.Items {
			cache.BackendBuckets[b.Name] = b
		}
	} else {
		ls.logger.ErrorMf(globals.GCP_LOADBALANCER_MODULE_NAME, "prefetch backend buckets for %s: %v", projectID, err)
	}
	if list, err := computeService.SslCertificates.List(projectID).Context(ctx).Do(); err == nil {
		for _, c := range list.Items {
			cache.Certificates[c.Name] = c
		}
	} else {
		ls.logger.ErrorMf(globals.GCP_LOADBALANCER_MODULE_NAME, "prefetch certificates for %s: %v", projectID, err)
	}

	ls.cache = cache
	return nil
}

// Resolve walks forwarding rule -> proxy -> URL map -> backend
// services and returns whatever it managed to assemble. Every lookup
// failure degrades to a partial detail rather than an error; load
// balancer configuration can be mid-edit while we read it.
func (ls *LoadBalancerService) Resolve(ctx context.Context, rule *compute.ForwardingRule, projectID string) *models.LoadBalancerDetail {
	detail := &models.LoadBalancerDetail{}

	kind := ProxyKindOf(rule.Target)
	proxy := ls.lookupProxy(ctx, projectID, kind, extractName(rule.Target))

	detail.Frontend = buildFrontend(rule, kind, proxy)

	switch {
	case proxy != nil && proxy.URLMap != "":
		if urlMap := ls.lookupURLMap(ctx, projectID, extractName(proxy.URLMap)); urlMap != nil {
			detail.RoutingRules = walkURLMap(urlMap)
		}
	case proxy != nil && proxy.BackendService != "":
		detail.RoutingRules = []models.LBRoutingRule{{
			Hosts:          []string{"*"},
			Path:           "/*",
			BackendService: extractName(proxy.BackendService),
		}}
	case kind == ProxyNone && rule.BackendService != "":
		detail.RoutingRules = []models.LBRoutingRule{{
			Hosts:          []string{"*"},
			Path:           "/*",
			BackendService: extractName(rule.BackendService),
		}}
	}

	seen := make(map[string]bool)
	for _, rr := range detail.RoutingRules {
		if rr.BackendService == "" || seen[rr.BackendService] {
			continue
		}
		seen[rr.BackendService] = true
		if backend := ls.resolveBackend(ctx, projectID, rr.BackendService); backend != nil {
			detail.Backends = append(detail.Backends, *backend)
		}
	}

	if proxy != nil && len(proxy.Certificates) > 0 {
		for _, certRef := range proxy.Certificates {
			if info := ls.resolveCertificate(ctx, projectID, extractName(certRef)); info != nil {
				detail.Frontend.CertificateDetails = append(detail.Frontend.CertificateDetails, *info)
			}
		}
	}

	return detail
}

func buildFrontend(rule *compute.ForwardingRule, kind ProxyKind, proxy *proxyInfo) *models.LBFrontend {
	fe := &models.LBFrontend{
		Protocol: kind.String(),
		IPPort:   fmt.Sprintf("%s:%s", rule.IPAddress, rulePorts(rule)),
	}
	if kind == ProxyNone {
		fe.Protocol = rule.IPProtocol
	}
	if proxy != nil {
		if len(proxy.Certificates) > 0 {
			fe.Certificate = extractName(proxy.Certificates[0])
		}
		fe.SSLPolicy = extractName(proxy.SSLPolicy)
	}
	return fe
}

func rulePorts(rule *compute.ForwardingRule) string {
	if rule.PortRange != "" {
		return rule.PortRange
	}
	if len(rule.Ports) > 0 {
		return strings.Join(rule.Ports, ",")
	}
	return "all"
}

// walkURLMap flattens a URL map into ordered routing rules: the map's
// default service first as a wildcard, then each host rule crossed
// with its path matcher's default and explicit path rules, preserving
// declared order.
func walkURLMap(m *compute.UrlMap) []models.LBRoutingRule {
	var rules []models.LBRoutingRule

	if m.DefaultService != "" {
		rules = append(rules, models.LBRoutingRule{
			Hosts:          []string{"*"},
			Path:           "/*",
			BackendService: extractName(m.DefaultService),
		})
	}

	matchersByName := make(map[string]*compute.PathMatcher, len(m.PathMatchers))
	for _, pm := range m.PathMatchers {
		matchersByName[pm.Name] = pm
	}

	for _, hr := range m.HostRules {
		pm, ok := matchersByName[hr.PathMatcher]
		if !ok {
			continue
		}
		if pm.DefaultService != "" {
			rules = append(rules, models.LBRoutingRule{
				Hosts:          hr.Hosts,
				Path:           "/*",
				BackendService: extractName(pm.DefaultService),
			})
		}
		for _, pr := range pm.PathRules {
			for _, path := range pr.Paths {
				rules = append(rules, models.LBRoutingRule{
					Hosts:          hr.Hosts,
					Path:           path,
					BackendService: extractName(pr.Service),
				})
			}
		}
	}
	return rules
}

func (ls *LoadBalancerService) lookupProxy(ctx context.Context, projectID string, kind ProxyKind, name string) *proxyInfo {
	if kind == ProxyNone || name == "" {
		return nil
	}
	if ls.cache != nil {
		if p, ok := ls.cache.Proxies[name]; ok {
			return p
		}
	}

	computeService, err := ls.getService(ctx)
	if err != nil {
		return nil
	}
	switch kind {
	case ProxyHTTP:
		if p, err := computeService.TargetHttpProxies.Get(projectID, name).Context(ctx).Do(); err == nil {
			return &proxyInfo{URLMap: p.UrlMap}
		}
	case ProxyHTTPS:
		if p, err := computeService.TargetHttpsProxies.Get(projectID, name).Context(ctx).Do(); err == nil {
			return &proxyInfo{URLMap: p.UrlMap, Certificates: p.SslCertificates, SSLPolicy: p.SslPolicy}
		}
	case ProxyTCP:
		if p, err := computeService.TargetTcpProxies.Get(projectID, name).Context(ctx).Do(); err == nil {
			return &proxyInfo{BackendService: p.Service}
		}
	case ProxySSL:
		if p, err := computeService.TargetSslProxies.Get(projectID, name).Context(ctx).Do(); err == nil {
			return &proxyInfo{BackendService: p.Service, Certificates: p.SslCertificates, SSLPolicy: p.SslPolicy}
		}
	}
	return nil
}

func (ls *LoadBalancerService) lookupURLMap(ctx context.Context, projectID, name string) *compute.UrlMap {
	if name == "" {
		return nil
	}
	if ls.cache != nil {
		if m, ok := ls.cache.URLMaps[name]; ok {
			return m
		}
	}
	computeService, err := ls.getService(ctx)
	if err != nil {
		return nil
	}
	m, err := computeService.UrlMaps.Get(projectID, name).Context(ctx).Do()
	if err != nil {
		return nil
	}
	return m
}

// resolveBackend tries the backend service namespace first and falls
// back to backend buckets; the two namespaces are disjoint.
func (ls *LoadBalancerService) resolveBackend(ctx context.Context, projectID, name string) *models.LBBackend {
	if ls.cache != nil {
		if bs, ok := ls.cache.BackendServices[name]; ok {
			return backendFromService(bs)
		}
		if bb, ok := ls.cache.BackendBuckets[name]; ok {
			return backendFromBucket(bb)
		}
	}

	computeService, err := ls.getService(ctx)
	if err != nil {
		return nil
	}
	if bs, err := computeService.BackendServices.Get(projectID, name).Context(ctx).Do(); err == nil {
		return backendFromService(bs)
	}
	if bb, err := computeService.BackendBuckets.Get(projectID, name).Context(ctx).Do(); err == nil {
		return backendFromBucket(bb)
	}
	return nil
}

func backendFromService(bs *compute.BackendService) *models.LBBackend {
	backend := &models.LBBackend{
		Name:           bs.Name,
		Type:           backendGroupType(bs),
		Description:    bs.Description,
		SecurityPolicy: extractName(bs.SecurityPolicy),
	}
	if bs.CdnPolicy != nil || bs.EnableCDN {
		backend.CDNEnabled = bs.EnableCDN
	}
	if len(bs.Backends) > 0 {
		backend.CapacityScaler = bs.Backends[0].CapacityScaler
	}
	return backend
}

func backendFromBucket(bb *compute.BackendBucket) *models.LBBackend {
	return &models.LBBackend{
		Name:        bb.Name,
		Type:        "Bucket",
		Description: bb.Description,
		CDNEnabled:  bb.EnableCdn,
	}
}

func backendGroupType(bs *compute.BackendService) string {
	for _, b := range bs.Backends {
		if strings.Contains(b.Group, "/networkEndpointGroups/") {
			return "NEG"
		}
		if strings.Contains(b.Group, "/instanceGroups/") {
			return "Instance Group"
		}
	}
	return "Instance Group"
}

func (ls *LoadBalancerService) resolveCertificate(ctx context.Context, projectID, name string) *models.CertificateInfo {
	var cert *compute.SslCertificate
	if ls.cache != nil {
		cert = ls.cache.Certificates[name]
	}
	if cert == nil {
		computeService, err := ls.getService(ctx)
		if err != nil {
			return nil
		}
		cert, err = computeService.SslCertificates.Get(projectID, name).Context(ctx).Do()
		if err != nil {
			return nil
		}
	}

	info := &models.CertificateInfo{
		Name:     cert.Name,
		DNSNames: cert.SubjectAlternativeNames,
	}
	if cert.ExpireTime != "" {
		if t, err := time.Parse(time.RFC3339, cert.ExpireTime); err == nil {
			info.Expiry = t
		}
	}
	return info
}

// CollectBackendServices lists every backend service in the project
// (global and regional) and attaches the IPs pointing at each one.
// ipsByKey is keyed project|region|name with region empty for global.
func (ls *LoadBalancerService) CollectBackendServices(ctx context.Context, projectID string, ipsByKey map[string][]string) ([]models.BackendService, error) {
	computeService, err := ls.getService(ctx)
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}

	var services []models.BackendService
	err = computeService.BackendServices.AggregatedList(projectID).Context(ctx).Pages(ctx, func(page *compute.BackendServiceAggregatedList) error {
		for _, scoped := range page.Items {
			for _, bs := range scoped.BackendServices {
				services = append(services, buildBackendService(bs, projectID, ipsByKey))
			}
		}
		return nil
	})
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}
	return services, nil
}

// BackendServiceKey builds the association key used by
// CollectBackendServices. Region is empty for global services.
func BackendServiceKey(projectID, region, name string) string {
	return projectID + "|" + region + "|" + name
}

func buildBackendService(bs *compute.BackendService, projectID string, ipsByKey map[string][]string) models.BackendService {
	region := extractName(bs.Region)
	service := models.BackendService{
		Name:                bs.Name,
		Protocol:            bs.Protocol,
		SessionAffinity:     bs.SessionAffinity,
		ProjectID:           projectID,
		Region:              region,
		LoadBalancingScheme: bs.LoadBalancingScheme,
		Description:         bs.Description,
		SelfLink:            bs.SelfLink,
		AssociatedIPs:       ipsByKey[BackendServiceKey(projectID, region, bs.Name)],
	}
	for _, hc := range bs.HealthChecks {
		service.HealthChecks = append(service.HealthChecks, extractName(hc))
	}
	for _, b := range bs.Backends {
		service.Backends = append(service.Backends, models.LBBackend{
			Name:           extractName(b.Group),
			Type:           backendGroupType(bs),
			Description:    b.Description,
			CapacityScaler: b.CapacityScaler,
		})
	}
	return service
}

func extractName(url string) string {
	if url == "" {
		return ""
	}
	splits := strings.Split(url, "/")
	return splits[len(splits)-1]
}
