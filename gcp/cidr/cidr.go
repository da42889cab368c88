// Package cidr answers planning questions against a scanned topology:
// does a proposed range collide, where does a free range fit, how full
// is a subnet.
package cidr

import (
	"fmt"
	"net/netip"
	"sort"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
)

// OverlapKind classifies how two CIDR ranges relate.
type OverlapKind string

const (
	OverlapNone        OverlapKind = "none"
	OverlapExact       OverlapKind = "exact"
	OverlapContains    OverlapKind = "contains"      // first range contains the second
	OverlapContainedBy OverlapKind = "contained_by"  // first range sits inside the second
	OverlapPartial     OverlapKind = "partial"
)

// CheckOverlap classifies the relation of a to b.
func CheckOverlap(a, b netip.Prefix) OverlapKind {
	a, b = a.Masked(), b.Masked()
	if !a.Overlaps(b) {
		return OverlapNone
	}
	switch {
	case a == b:
		return OverlapExact
	case a.Bits() < b.Bits():
		return OverlapContains
	case a.Bits() > b.Bits():
		return OverlapContainedBy
	default:
		return OverlapPartial
	}
}

// CheckOverlapStrings parses both ranges and classifies them.
func CheckOverlapStrings(a, b string) (OverlapKind, error) {
	pa, err := netip.ParsePrefix(a)
	if err != nil {
		return OverlapNone, fmt.Errorf("parsing %q: %w", a, err)
	}
	pb, err := netip.ParsePrefix(b)
	if err != nil {
		return OverlapNone, fmt.Errorf("parsing %q: %w", b, err)
	}
	return CheckOverlap(pa, pb), nil
}

// Conflict is one allocated range a candidate CIDR collides with.
type Conflict struct {
	ProjectID string      `json:"project_id"`
	Network   string      `json:"network"`
	Subnet    string      `json:"subnet"`
	CIDR      string      `json:"cidr"`
	RangeName string      `json:"range_name,omitempty"` // set for secondary ranges
	Overlap   OverlapKind `json:"overlap"`
}

// allocatedRange is one CIDR the topology already uses.
type allocatedRange struct {
	projectID string
	network   string
	subnet    string
	rangeName string
	prefix    netip.Prefix
}

func allocatedRanges(topology *models.Topology) []allocatedRange {
	var out []allocatedRange
	add := func(projectID, network, subnet, rangeName, cidr string) {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return
		}
		out = append(out, allocatedRange{projectID: projectID, network: network, subnet: subnet, rangeName: rangeName, prefix: p.Masked()})
	}
	for _, project := range topology.Projects {
		for _, network := range project.VPCNetworks {
			for _, subnet := range network.Subnets {
				add(project.ProjectID, network.Name, subnet.Name, "", subnet.IPCidrRange)
				for _, sec := range subnet.SecondaryIPRanges {
					add(project.ProjectID, network.Name, subnet.Name, sec.RangeName, sec.IPCidrRange)
				}
			}
		}
		for _, cluster := range project.GKEClusters {
			if cluster.MasterIPv4CIDR != "" {
				add(project.ProjectID, cluster.Network, cluster.Name+"-master", "", cluster.MasterIPv4CIDR)
			}
		}
	}
	return out
}

// FindConflicts reports every allocated range the candidate overlaps.
func FindConflicts(candidate string, topology *models.Topology) ([]Conflict, error) {
	p, err := netip.ParsePrefix(candidate)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", candidate, err)
	}
	p = p.Masked()

	var conflicts []Conflict
	for _, r := range allocatedRanges(topology) {
		kind := CheckOverlap(p, r.prefix)
		if kind == OverlapNone {
			continue
		}
		conflicts = append(conflicts, Conflict{
			ProjectID: r.projectID,
			Network:   r.network,
			Subnet:    r.subnet,
			CIDR:      r.prefix.String(),
			RangeName: r.rangeName,
			Overlap:   kind,
		})
	}
	return conflicts, nil
}

// SuggestAvailable walks candidate blocks of prefixLen under parent in
// ascending order and returns up to count that collide with nothing in
// the topology. Defaults: parent 10.0.0.0/8, /24 blocks, 5 results.
func SuggestAvailable(topology *models.Topology, parent string, prefixLen, count int) ([]string, error) {
	ranges := allocatedRanges(topology)
	existing := make([]netip.Prefix, len(ranges))
	for i, r := range ranges {
		existing[i] = r.prefix
	}
	return FindAvailable(parent, existing, prefixLen, count)
}

// FindAvailable returns up to count blocks of prefixLen under parent
// that overlap none of the existing prefixes, in ascending order.
func FindAvailable(parent string, existing []netip.Prefix, prefixLen, count int) ([]string, error) {
	if parent == "" {
		parent = "10.0.0.0/8"
	}
	if prefixLen == 0 {
		prefixLen = 24
	}
	if count == 0 {
		count = 5
	}

	base, err := netip.ParsePrefix(parent)
	if err != nil {
		return nil, fmt.Errorf("parsing parent %q: %w", parent, err)
	}
	base = base.Masked()
	if !base.Addr().Is4() {
		return nil, fmt.Errorf("parent %q: only IPv4 ranges are planned", parent)
	}
	if prefixLen <= base.Bits() || prefixLen > 29 {
		return nil, fmt.Errorf("prefix length /%d does not subdivide %s", prefixLen, base)
	}

	blockSize := uint32(1) << (32 - prefixLen)
	start := ipToUint32(base.Addr())
	end := start + (uint32(1) << (32 - base.Bits()))

	var suggestions []string
	for cursor := start; cursor < end && len(suggestions) < count; cursor += blockSize {
		candidate := netip.PrefixFrom(uint32ToIP(cursor), prefixLen)
		free := true
		for _, p := range existing {
			if CheckOverlap(candidate, p) != OverlapNone {
				free = false
				break
			}
		}
		if free {
			suggestions = append(suggestions, candidate.String())
		}
	}
	return suggestions, nil
}

// Utilization describes how full one subnet is. GCP reserves four
// addresses per subnet: network, gateway, second-to-last, broadcast.
type Utilization struct {
	CIDR        string  `json:"cidr"`
	TotalUsable int     `json:"total_usable"`
	UsedCount   int     `json:"used_count"`
	FreeCount   int     `json:"free_count"`
	UsedPercent float64 `json:"used_percent"`
}

// SubnetUtilization counts the topology's in-use internal IPs that
// fall inside the subnet's range.
func SubnetUtilization(subnetCIDR string, topology *models.Topology) (Utilization, error) {
	p, err := netip.ParsePrefix(subnetCIDR)
	if err != nil {
		return Utilization{}, fmt.Errorf("parsing %q: %w", subnetCIDR, err)
	}
	p = p.Masked()
	if !p.Addr().Is4() {
		return Utilization{}, fmt.Errorf("%q: only IPv4 subnets are measured", subnetCIDR)
	}

	total := 0
	if p.Bits() < 31 {
		total = int(uint32(1)<<(32-p.Bits())) - 4
	}

	used := 0
	for _, addr := range topology.UsedInternalIPs {
		ip, err := netip.ParseAddr(addr.IPAddress)
		if err != nil {
			continue
		}
		if p.Contains(ip) {
			used++
		}
	}

	u := Utilization{
		CIDR:        p.String(),
		TotalUsable: total,
		UsedCount:   used,
		FreeCount:   total - used,
	}
	if total > 0 {
		u.UsedPercent = float64(used) / float64(total) * 100
	}
	return u, nil
}

// IPDetails locates an IP inside the topology: the subnet that holds
// it and the address record claiming it, when either exists.
type IPDetails struct {
	IP        string          `json:"ip"`
	ProjectID string          `json:"project_id,omitempty"`
	Network   string          `json:"network,omitempty"`
	Subnet    string          `json:"subnet,omitempty"`
	CIDR      string          `json:"cidr,omitempty"`
	InUse     bool            `json:"in_use"`
	Address   *models.Address `json:"address,omitempty"`
}

// LookupIP resolves one IP against the topology.
func LookupIP(ipStr string, topology *models.Topology) (IPDetails, error) {
	ip, err := netip.ParseAddr(ipStr)
	if err != nil {
		return IPDetails{}, fmt.Errorf("parsing %q: %w", ipStr, err)
	}

	details := IPDetails{IP: ip.String()}

	// Most specific containing subnet wins.
	bestBits := -1
	for _, r := range allocatedRanges(topology) {
		if r.rangeName != "" {
			continue
		}
		if r.prefix.Contains(ip) && r.prefix.Bits() > bestBits {
			bestBits = r.prefix.Bits()
			details.ProjectID = r.projectID
			details.Network = r.network
			details.Subnet = r.subnet
			details.CIDR = r.prefix.String()
		}
	}

	for i := range topology.UsedInternalIPs {
		if topology.UsedInternalIPs[i].IPAddress == details.IP {
			details.InUse = true
			details.Address = &topology.UsedInternalIPs[i]
			return details, nil
		}
	}
	for i := range topology.PublicIPs {
		if topology.PublicIPs[i].IPAddress == details.IP {
			details.InUse = true
			details.Address = &topology.PublicIPs[i]
			return details, nil
		}
	}
	return details, nil
}

// SuffixMatch is one free address ending in the requested octet.
type SuffixMatch struct {
	IP        string `json:"ip"`
	ProjectID string `json:"project_id"`
	Network   string `json:"network"`
	Subnet    string `json:"subnet"`
	CIDR      string `json:"cidr"`
}

// FindSuffixIPs returns, per subnet, the free IPv4 address whose last
// octet equals suffix. Stepping is by /24 block within the subnet.
// Network, broadcast, gateway and in-use addresses are skipped.
func FindSuffixIPs(suffix int, topology *models.Topology) ([]SuffixMatch, error) {
	if suffix < 0 || suffix > 255 {
		return nil, fmt.Errorf("suffix %d out of range 0-255", suffix)
	}

	inUse := make(map[string]bool, len(topology.UsedInternalIPs))
	for _, a := range topology.UsedInternalIPs {
		inUse[a.IPAddress] = true
	}

	var matches []SuffixMatch
	for _, r := range allocatedRanges(topology) {
		if r.rangeName != "" || !r.prefix.Addr().Is4() || r.prefix.Bits() >= 31 {
			continue
		}
		start := ipToUint32(r.prefix.Addr())
		size := uint32(1) << (32 - r.prefix.Bits())
		network := start
		broadcast := start + size - 1
		gateway := start + 1

		for block := start &^ 0xff; block < start+size; block += 256 {
			candidate := block | uint32(suffix)
			if candidate < start || candidate > broadcast {
				continue
			}
			if candidate == network || candidate == broadcast || candidate == gateway {
				continue
			}
			ip := uint32ToIP(candidate).String()
			if inUse[ip] {
				continue
			}
			matches = append(matches, SuffixMatch{
				IP:        ip,
				ProjectID: r.projectID,
				Network:   r.network,
				Subnet:    r.subnet,
				CIDR:      r.prefix.String(),
			})
			break
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].IP < matches[j].IP })
	return matches, nil
}

// Info is the static arithmetic of a CIDR block.
type Info struct {
	CIDR        string `json:"cidr"`
	NetworkAddr string `json:"network_address"`
	Broadcast   string `json:"broadcast_address"`
	Netmask     string `json:"netmask"`
	FirstUsable string `json:"first_usable"`
	LastUsable  string `json:"last_usable"`
	NumAddrs    int    `json:"num_addresses"`
}

// CIDRInfo computes the block arithmetic for an IPv4 range.
func CIDRInfo(cidrStr string) (Info, error) {
	p, err := netip.ParsePrefix(cidrStr)
	if err != nil {
		return Info{}, fmt.Errorf("parsing %q: %w", cidrStr, err)
	}
	p = p.Masked()
	if !p.Addr().Is4() {
		return Info{}, fmt.Errorf("%q: IPv4 only", cidrStr)
	}

	start := ipToUint32(p.Addr())
	size := uint32(1) << (32 - p.Bits())
	mask := ^uint32(0) << (32 - p.Bits())
	if p.Bits() == 0 {
		mask = 0
	}

	info := Info{
		CIDR:        p.String(),
		NetworkAddr: p.Addr().String(),
		Broadcast:   uint32ToIP(start + size - 1).String(),
		Netmask:     uint32ToIP(mask).String(),
		NumAddrs:    int(size),
	}
	if p.Bits() < 31 {
		info.FirstUsable = uint32ToIP(start + 1).String()
		info.LastUsable = uint32ToIP(start + size - 2).String()
	} else {
		info.FirstUsable = info.NetworkAddr
		info.LastUsable = info.Broadcast
	}
	return info, nil
}

func ipToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func uint32ToIP(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
