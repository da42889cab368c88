package loadbalancerservice

import (
	"context"
	"testing"
	"time"

	"google.golang.org/api/compute/v1"
)

func TestProxyKindOf(t *testing.T) {
	cases := map[string]ProxyKind{
		"projects/p1/global/targetHttpsProxies/web-proxy": ProxyHTTPS,
		"projects/p1/global/targetHttpProxies/web-proxy":  ProxyHTTP,
		"projects/p1/global/targetTcpProxies/db-proxy":    ProxyTCP,
		"projects/p1/global/targetSslProxies/tls-proxy":   ProxySSL,
		"": ProxyNone,
		"projects/p1/regions/us-east1/targetPools/legacy": ProxyNone,
	}
	for target, want := range cases {
		if got := ProxyKindOf(target); got != want {
			t.Errorf("ProxyKindOf(%q) = %s, want %s", target, got, want)
		}
	}
}

func TestWalkURLMapOrder(t *testing.T) {
	m := &compute.UrlMap{
		DefaultService: "projects/p1/global/backendServices/default-be",
		HostRules: []*compute.HostRule{
			{Hosts: []string{"api.example.com"}, PathMatcher: "api"},
			{Hosts: []string{"static.example.com"}, PathMatcher: "static"},
		},
		PathMatchers: []*compute.PathMatcher{
			{
				Name:           "api",
				DefaultService: "projects/p1/global/backendServices/api-be",
				PathRules: []*compute.PathRule{
					{Paths: []string{"/v1/*", "/v2/*"}, Service: "projects/p1/global/backendServices/api-versioned-be"},
				},
			},
			{
				Name:           "static",
				DefaultService: "projects/p1/global/backendBuckets/assets",
			},
		},
	}

	rules := walkURLMap(m)

	want := []struct {
		host    string
		path    string
		backend string
	}{
		{"*", "/*", "default-be"},
		{"api.example.com", "/*", "api-be"},
		{"api.example.com", "/v1/*", "api-versioned-be"},
		{"api.example.com", "/v2/*", "api-versioned-be"},
		{"static.example.com", "/*", "assets"},
	}
	if len(rules) != len(want) {
		t.Fatalf("got %d rules, want %d: %+v", len(rules), len(want), rules)
	}
	for i, w := range want {
		if rules[i].Hosts[0] != w.host || rules[i].Path != w.path || rules[i].BackendService != w.backend {
			t.Errorf("rule[%d] = %+v, want %s %s %s", i, rules[i], w.host, w.path, w.backend)
		}
	}
}

func TestResolveHTTPSFromCache(t *testing.T) {
	cache := NewPrefetchCache()
	cache.Proxies["web-proxy"] = &proxyInfo{
		URLMap:       "projects/p1/global/urlMaps/web-map",
		Certificates: []string{"projects/p1/global/sslCertificates/web-cert"},
		SSLPolicy:    "projects/p1/global/sslPolicies/modern",
	}
	cache.URLMaps["web-map"] = &compute.UrlMap{
		DefaultService: "projects/p1/global/backendServices/web-be",
	}
	cache.BackendServices["web-be"] = &compute.BackendService{
		Name:      "web-be",
		EnableCDN: true,
		Backends: []*compute.Backend{
			{Group: "projects/p1/zones/us-east1-b/instanceGroups/web-ig", CapacityScaler: 1.0},
		},
	}
	cache.Certificates["web-cert"] = &compute.SslCertificate{
		Name:                    "web-cert",
		ExpireTime:              "2027-03-01T00:00:00Z",
		SubjectAlternativeNames: []string{"example.com", "www.example.com"},
	}

	svc := NewWithCache(cache)
	rule := &compute.ForwardingRule{
		Name:      "web-fr",
		IPAddress: "34.0.0.1",
		PortRange: "443-443",
		Target:    "projects/p1/global/targetHttpsProxies/web-proxy",
	}

	detail := svc.Resolve(context.Background(), rule, "p1")

	if detail.Frontend == nil || detail.Frontend.Protocol != "HTTPS" {
		t.Fatalf("frontend = %+v, want HTTPS", detail.Frontend)
	}
	if detail.Frontend.IPPort != "34.0.0.1:443-443" {
		t.Errorf("ip port = %q", detail.Frontend.IPPort)
	}
	if detail.Frontend.SSLPolicy != "modern" {
		t.Errorf("ssl policy = %q", detail.Frontend.SSLPolicy)
	}
	if len(detail.RoutingRules) != 1 || detail.RoutingRules[0].BackendService != "web-be" {
		t.Fatalf("routing rules = %+v", detail.RoutingRules)
	}
	if len(detail.Backends) != 1 || detail.Backends[0].Name != "web-be" || !detail.Backends[0].CDNEnabled {
		t.Errorf("backends = %+v", detail.Backends)
	}
	if len(detail.Frontend.CertificateDetails) != 1 {
		t.Fatalf("certificate details = %+v", detail.Frontend.CertificateDetails)
	}
	cert := detail.Frontend.CertificateDetails[0]
	if !cert.Expiry.Equal(time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expiry = %v", cert.Expiry)
	}
	if len(cert.DNSNames) != 2 {
		t.Errorf("dns names = %v", cert.DNSNames)
	}
}

func TestResolvePassthroughUsesRuleBackendService(t *testing.T) {
	cache := NewPrefetchCache()
	cache.BackendServices["ilb-be"] = &compute.BackendService{Name: "ilb-be"}

	svc := NewWithCache(cache)
	rule := &compute.ForwardingRule{
		Name:           "ilb-fr",
		IPAddress:      "10.0.0.5",
		Ports:          []string{"5432"},
		IPProtocol:     "TCP",
		BackendService: "projects/p1/regions/us-east1/backendServices/ilb-be",
	}

	detail := svc.Resolve(context.Background(), rule, "p1")

	if detail.Frontend.Protocol != "TCP" {
		t.Errorf("protocol = %q, want TCP passthrough", detail.Frontend.Protocol)
	}
	if len(detail.RoutingRules) != 1 || detail.RoutingRules[0].BackendService != "ilb-be" {
		t.Fatalf("routing rules = %+v", detail.RoutingRules)
	}
	if detail.RoutingRules[0].Hosts[0] != "*" || detail.RoutingRules[0].Path != "/*" {
		t.Errorf("wildcard rule = %+v", detail.RoutingRules[0])
	}
}

func TestResolveBackendBucketFallback(t *testing.T) {
	cache := NewPrefetchCache()
	cache.Proxies["cdn-proxy"] = &proxyInfo{URLMap: "projects/p1/global/urlMaps/cdn-map"}
	cache.URLMaps["cdn-map"] = &compute.UrlMap{
		DefaultService: "projects/p1/global/backendBuckets/assets",
	}
	cache.BackendBuckets["assets"] = &compute.BackendBucket{Name: "assets", EnableCdn: true}

	svc := NewWithCache(cache)
	rule := &compute.ForwardingRule{
		Name:      "cdn-fr",
		IPAddress: "34.0.0.9",
		PortRange: "80-80",
		Target:    "projects/p1/global/targetHttpProxies/cdn-proxy",
	}

	detail := svc.Resolve(context.Background(), rule, "p1")

	if len(detail.Backends) != 1 {
		t.Fatalf("backends = %+v", detail.Backends)
	}
	if detail.Backends[0].Type != "Bucket" || !detail.Backends[0].CDNEnabled {
		t.Errorf("bucket backend = %+v", detail.Backends[0])
	}
}

func TestResolveDegradesOnMissingURLMap(t *testing.T) {
	// Proxy resolves but its URL map is gone and there is no live API
	// to fall back to: the frontend must still come back.
	cache := NewPrefetchCache()
	cache.Proxies["broken-proxy"] = &proxyInfo{URLMap: "projects/p1/global/urlMaps/gone"}

	svc := NewWithCache(cache)
	// The cache miss path would hit the API; a canceled context keeps
	// the direct fetch from going anywhere.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rule := &compute.ForwardingRule{
		Name:      "broken-fr",
		IPAddress: "34.0.0.7",
		PortRange: "80-80",
		Target:    "projects/p1/global/targetHttpProxies/broken-proxy",
	}

	detail := svc.Resolve(ctx, rule, "p1")

	if detail == nil || detail.Frontend == nil {
		t.Fatal("detail or frontend missing")
	}
	if detail.Frontend.IPPort != "34.0.0.7:80-80" {
		t.Errorf("frontend = %+v", detail.Frontend)
	}
	if len(detail.RoutingRules) != 0 {
		t.Errorf("routing rules = %+v, want none", detail.RoutingRules)
	}
}

func TestBuildBackendServiceAssociation(t *testing.T) {
	bs := &compute.BackendService{
		Name:                "api-be",
		Protocol:            "HTTP",
		Region:              "projects/p1/regions/asia-east1",
		LoadBalancingScheme: "INTERNAL_MANAGED",
		HealthChecks:        []string{"projects/p1/global/healthChecks/api-hc"},
	}
	ips := map[string][]string{
		BackendServiceKey("p1", "asia-east1", "api-be"): {"10.0.0.8"},
	}

	got := buildBackendService(bs, "p1", ips)

	if got.Region != "asia-east1" {
		t.Errorf("region = %q", got.Region)
	}
	if len(got.AssociatedIPs) != 1 || got.AssociatedIPs[0] != "10.0.0.8" {
		t.Errorf("associated ips = %v", got.AssociatedIPs)
	}
	if len(got.HealthChecks) != 1 || got.HealthChecks[0] != "api-hc" {
		t.Errorf("health checks = %v", got.HealthChecks)
	}
}
