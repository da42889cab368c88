// Package models defines the network topology data model produced by a
// scan. A Topology is assembled once per scan, serialized as JSON, and
// treated as read-only afterward; Address records are the only entities
// mutated after construction (they merge when the same IP literal is
// reported by more than one raw source).
package models

import "time"

// ScanStatus is the terminal state of a single project's scan.
type ScanStatus string

const (
	ScanPending          ScanStatus = "pending"
	ScanSuccess          ScanStatus = "success"
	ScanError            ScanStatus = "error"
	ScanPermissionDenied ScanStatus = "permission_denied"
)

// AddressKind separates the two flavors of the Address concept.
type AddressKind string

const (
	AddressExternal AddressKind = "EXTERNAL"
	AddressInternal AddressKind = "INTERNAL"
)

// ResourceType classifies what an IP address is attached to.
type ResourceType string

const (
	ResourceLoadBalancer      ResourceType = "LoadBalancer"
	ResourceVM                ResourceType = "VM"
	ResourceCloudNAT          ResourceType = "CloudNAT"
	ResourceStaticReservation ResourceType = "StaticReservation"
	ResourceUnused            ResourceType = "Unused"
	ResourceUnknown           ResourceType = "Unknown"
)

// Subnet is a CIDR-scoped, region-bound allocation within a VPC network.
type Subnet struct {
	Name                  string           `json:"name"`
	Region                string           `json:"region"`
	IPCidrRange           string           `json:"ip_cidr_range"`
	GatewayIP             string           `json:"gateway_ip,omitempty"`
	PrivateIPGoogleAccess bool             `json:"private_ip_google_access"`
	SecondaryIPRanges     []SecondaryRange `json:"secondary_ip_ranges,omitempty"`
	Purpose               string           `json:"purpose,omitempty"`
	SelfLink              string           `json:"self_link"`

	// Back-reference to the parent network. Kept as the full URL since
	// in Shared VPC topologies a subnet may be enumerated from a project
	// other than the network's owner.
	Network string `json:"network,omitempty"`
}

// SecondaryRange is a named secondary CIDR on a subnet.
type SecondaryRange struct {
	RangeName   string `json:"range_name"`
	IPCidrRange string `json:"ip_cidr_range"`
}

// Peering describes one VPC peering relationship.
type Peering struct {
	Name         string `json:"name"`
	Network      string `json:"network"`
	State        string `json:"state"`
	StateDetails string `json:"state_details,omitempty"`
}

// VPCNetwork is an account-scoped private L3 network namespace.
type VPCNetwork struct {
	Name                  string    `json:"name"`
	SelfLink              string    `json:"self_link"`
	ProjectID             string    `json:"project_id"`
	AutoCreateSubnetworks bool      `json:"auto_create_subnetworks"`
	RoutingMode           string    `json:"routing_mode"`
	MTU                   int64     `json:"mtu"`
	Subnets               []Subnet  `json:"subnets"`
	Peerings              []Peering `json:"peerings,omitempty"`
}

// CertificateInfo is resolved SSL certificate metadata.
type CertificateInfo struct {
	Name     string    `json:"name"`
	Expiry   time.Time `json:"expiry,omitempty"`
	DNSNames []string  `json:"dns_names,omitempty"`
}

// LBFrontend describes the client-facing side of a load balancer.
type LBFrontend struct {
	Protocol           string            `json:"protocol"`
	IPPort             string            `json:"ip_port"`
	Certificate        string            `json:"certificate,omitempty"`
	SSLPolicy          string            `json:"ssl_policy,omitempty"`
	CertificateDetails []CertificateInfo `json:"certificate_details,omitempty"`
}

// LBRoutingRule is one host/path -> backend-service mapping. Order
// mirrors the URL map's declared order and must be preserved.
type LBRoutingRule struct {
	Hosts          []string `json:"hosts"`
	Path           string   `json:"path"`
	BackendService string   `json:"backend_service"`
}

// LBBackend is a resolved backend target of a load balancer.
type LBBackend struct {
	Name           string  `json:"name"`
	Type           string  `json:"type"` // "Instance Group", "NEG", "Bucket"
	Description    string  `json:"description,omitempty"`
	CDNEnabled     bool    `json:"cdn_enabled"`
	CapacityScaler float64 `json:"capacity_scaler,omitempty"`
	SecurityPolicy string  `json:"security_policy,omitempty"`
}

// LoadBalancerDetail is the denormalized description of one load
// balancer, built by walking forwarding rule -> proxy -> URL map ->
// backend service.
type LoadBalancerDetail struct {
	Frontend     *LBFrontend     `json:"frontend,omitempty"`
	RoutingRules []LBRoutingRule `json:"routing_rules,omitempty"`
	Backends     []LBBackend     `json:"backends,omitempty"`
}

// Address is a public or internal IP address and whatever it is attached
// to. Within one scan each IP literal appears at most once per
// AddressKind; overlapping raw signals merge via Merge.
type Address struct {
	IPAddress    string              `json:"ip_address"`
	Kind         AddressKind         `json:"kind"`
	ResourceType ResourceType        `json:"resource_type"`
	ResourceName string              `json:"resource_name"`
	ProjectID    string              `json:"project_id"`
	Region       string              `json:"region"`
	Status       string              `json:"status"` // IN_USE, RESERVED
	VPC          string              `json:"vpc,omitempty"`
	Subnet       string              `json:"subnet,omitempty"`
	Zone         string              `json:"zone,omitempty"`
	Description  string              `json:"description,omitempty"`
	Labels       map[string]string   `json:"labels,omitempty"`
	Details      *LoadBalancerDetail `json:"details,omitempty"`
}

// ProtocolPorts is one allowed or denied protocol + port tuple on a
// firewall rule.
type ProtocolPorts struct {
	IPProtocol string   `json:"IPProtocol"`
	Ports      []string `json:"ports,omitempty"`
}

// FirewallRule is one VPC firewall rule. Priority: lower number wins,
// rules are evaluated ascending.
type FirewallRule struct {
	Name              string          `json:"name"`
	Direction         string          `json:"direction"`
	Action            string          `json:"action"` // ALLOW or DENY
	Priority          int64           `json:"priority"`
	SourceRanges      []string        `json:"source_ranges,omitempty"`
	DestinationRanges []string        `json:"destination_ranges,omitempty"`
	SourceTags        []string        `json:"source_tags,omitempty"`
	TargetTags        []string        `json:"target_tags,omitempty"`
	Allowed           []ProtocolPorts `json:"allowed,omitempty"`
	Denied            []ProtocolPorts `json:"denied,omitempty"`
	VPCNetwork        string          `json:"vpc_network"`
	ProjectID         string          `json:"project_id"`
	Disabled          bool            `json:"disabled"`
	Description       string          `json:"description,omitempty"`
}

// SecurityPolicyRule is one ordered rule in a Cloud Armor policy. Rules
// that were defined in basic mode (literal source ranges) carry a
// synthesized MatchExpression so downstream consumers see a single
// representation.
type SecurityPolicyRule struct {
	Priority        int64  `json:"priority"`
	Action          string `json:"action"`
	Description     string `json:"description,omitempty"`
	MatchExpression string `json:"match_expression,omitempty"`
	Preview         bool   `json:"preview"`
}

// SecurityPolicy is a Cloud Armor (WAF-like) policy.
type SecurityPolicy struct {
	Name                      string               `json:"name"`
	Description               string               `json:"description,omitempty"`
	Rules                     []SecurityPolicyRule `json:"rules"`
	AdaptiveProtectionEnabled bool                 `json:"adaptive_protection_enabled"`
	ProjectID                 string               `json:"project_id"`
	SelfLink                  string               `json:"self_link,omitempty"`
}

// BackendService is the target a routing rule or passthrough forwarding
// rule sends traffic to. AssociatedIPs is populated by a second pass
// keyed by project|region|name.
type BackendService struct {
	Name                string      `json:"name"`
	Protocol            string      `json:"protocol"`
	SessionAffinity     string      `json:"session_affinity,omitempty"`
	AssociatedIPs       []string    `json:"associated_ips,omitempty"`
	ProjectID           string      `json:"project_id"`
	Region              string      `json:"region,omitempty"` // empty = global
	LoadBalancingScheme string      `json:"load_balancing_scheme,omitempty"`
	Description         string      `json:"description,omitempty"`
	Backends            []LBBackend `json:"backends,omitempty"`
	HealthChecks        []string    `json:"health_checks,omitempty"`
	SelfLink            string      `json:"self_link,omitempty"`
}

// Instance is one Compute Engine VM.
type Instance struct {
	Name              string            `json:"name"`
	ProjectID         string            `json:"project_id"`
	Zone              string            `json:"zone"`
	MachineType       string            `json:"machine_type"`
	Status            string            `json:"status"`
	InternalIP        string            `json:"internal_ip,omitempty"`
	ExternalIP        string            `json:"external_ip,omitempty"`
	Network           string            `json:"network,omitempty"`
	Subnet            string            `json:"subnet,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
	ServiceAccounts   []string          `json:"service_accounts,omitempty"`
	CreationTimestamp string            `json:"creation_timestamp,omitempty"`
	CPUCount          int64             `json:"cpu_count,omitempty"`
	MemoryMB          int64             `json:"memory_mb,omitempty"`
}

// WorkloadObject is one object discovered inside a cluster's control
// plane. For secrets only metadata is captured, never payloads.
type WorkloadObject struct {
	Kind      string `json:"kind"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Detail    string `json:"detail,omitempty"`
}

// GKECluster is one managed Kubernetes cluster, optionally with its
// workload inventory.
type GKECluster struct {
	Name             string            `json:"name"`
	ProjectID        string            `json:"project_id"`
	Location         string            `json:"location"`
	Network          string            `json:"network,omitempty"`
	Subnet           string            `json:"subnet,omitempty"`
	Endpoint         string            `json:"endpoint,omitempty"`
	Version          string            `json:"version,omitempty"`
	Status           string            `json:"status,omitempty"`
	ServicesIPv4CIDR string            `json:"services_ipv4_cidr,omitempty"`
	PodsIPv4CIDR     string            `json:"pods_ipv4_cidr,omitempty"`
	MasterIPv4CIDR   string            `json:"master_ipv4_cidr,omitempty"`
	NodeCount        int64             `json:"node_count"`
	Labels           map[string]string `json:"labels,omitempty"`
	Workloads        []WorkloadObject  `json:"workloads,omitempty"`
	WorkloadsScanned bool              `json:"workloads_scanned"`
}

// PublicAccess is the tri-state exposure flag on a bucket. IAM policy
// fetch failure yields Unknown rather than silently reporting private.
type PublicAccess string

const (
	AccessPublic  PublicAccess = "public"
	AccessPrivate PublicAccess = "private"
	AccessUnknown PublicAccess = "unknown"
)

// GCSBucket is one object storage bucket.
type GCSBucket struct {
	Name              string            `json:"name"`
	ProjectID         string            `json:"project_id"`
	Location          string            `json:"location,omitempty"`
	StorageClass      string            `json:"storage_class,omitempty"`
	CreationTime      time.Time         `json:"creation_time,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
	PublicAccess      PublicAccess      `json:"public_access"`
	VersioningEnabled bool              `json:"versioning_enabled"`
}

// IsPublic reports confirmed public exposure.
func (b GCSBucket) IsPublic() bool { return b.PublicAccess == AccessPublic }

// Project is a billing/IAM-isolated resource container and the unit of
// per-account scanning. Terminal ScanStatus is set exactly once.
type Project struct {
	ProjectID     string       `json:"project_id"`
	ProjectName   string       `json:"project_name"`
	ProjectNumber string       `json:"project_number,omitempty"`
	VPCNetworks   []VPCNetwork `json:"vpc_networks"`
	Instances     []Instance   `json:"instances,omitempty"`
	GKEClusters   []GKECluster `json:"gke_clusters,omitempty"`
	Buckets       []GCSBucket  `json:"buckets,omitempty"`
	ScanStatus    ScanStatus   `json:"scan_status"`
	ErrorMessage  string       `json:"error_message,omitempty"`
}

// Topology is the root snapshot: the unit of persistence and the unit
// returned to callers. A new scan produces a wholly new Topology.
type Topology struct {
	ScanID        string    `json:"scan_id"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
	SourceType    string    `json:"source_type"`
	SourceID      string    `json:"source_id"`
	Projects      []Project `json:"projects"`

	PublicIPs        []Address        `json:"public_ips"`
	UsedInternalIPs  []Address        `json:"used_internal_ips"`
	FirewallRules    []FirewallRule   `json:"firewall_rules"`
	SecurityPolicies []SecurityPolicy `json:"cloud_armor_policies"`
	BackendServices  []BackendService `json:"backend_services"`
	Instances        []Instance       `json:"instances,omitempty"`
	GKEClusters      []GKECluster     `json:"gke_clusters,omitempty"`
	Buckets          []GCSBucket      `json:"buckets,omitempty"`

	TotalProjects  int `json:"total_projects"`
	TotalVPCs      int `json:"total_vpcs"`
	TotalSubnets   int `json:"total_subnets"`
	FailedProjects int `json:"failed_projects"`
}
