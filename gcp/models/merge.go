package models

// typePrecedence orders ResourceType by specificity. When two raw
// signals describe the same IP the more specific classification wins.
var typePrecedence = map[ResourceType]int{
	ResourceLoadBalancer:      4,
	ResourceVM:                3,
	ResourceCloudNAT:          2,
	ResourceStaticReservation: 1,
	ResourceUnused:            0,
	ResourceUnknown:           0,
}

// Merge folds src into dst. Both must carry the same IP literal and
// Kind; the caller guarantees this. ResourceType upgrades only when src
// ranks strictly higher; every other field fills in only when dst has
// no value yet. Merging the same src twice is a no-op.
func (dst *Address) Merge(src Address) {
	if typePrecedence[src.ResourceType] > typePrecedence[dst.ResourceType] {
		dst.ResourceType = src.ResourceType
		if src.ResourceName != "" {
			dst.ResourceName = src.ResourceName
		}
	}
	if dst.ResourceName == "" {
		dst.ResourceName = src.ResourceName
	}
	if dst.ProjectID == "" {
		dst.ProjectID = src.ProjectID
	}
	if dst.Region == "" {
		dst.Region = src.Region
	}
	if dst.Status == "" {
		dst.Status = src.Status
	}
	if dst.VPC == "" {
		dst.VPC = src.VPC
	}
	if dst.Subnet == "" {
		dst.Subnet = src.Subnet
	}
	if dst.Zone == "" {
		dst.Zone = src.Zone
	}
	if dst.Description == "" {
		dst.Description = src.Description
	}
	if len(dst.Labels) == 0 && len(src.Labels) > 0 {
		dst.Labels = src.Labels
	}
	if dst.Details == nil {
		dst.Details = src.Details
	}
}

// AddressSet accumulates addresses under the per-kind IP uniqueness
// invariant. Insertion order of first sight is preserved.
type AddressSet struct {
	index map[string]int
	items []Address
}

// NewAddressSet returns an empty set.
func NewAddressSet() *AddressSet {
	return &AddressSet{index: make(map[string]int)}
}

func addressKey(a Address) string {
	return string(a.Kind) + "|" + a.IPAddress
}

// Add inserts a new address or merges into the existing record for the
// same (kind, IP) key.
func (s *AddressSet) Add(a Address) {
	if i, ok := s.index[addressKey(a)]; ok {
		s.items[i].Merge(a)
		return
	}
	s.index[addressKey(a)] = len(s.items)
	s.items = append(s.items, a)
}

// Get returns the current record for an IP under the given kind.
func (s *AddressSet) Get(kind AddressKind, ip string) (Address, bool) {
	i, ok := s.index[string(kind)+"|"+ip]
	if !ok {
		return Address{}, false
	}
	return s.items[i], true
}

// Items returns the accumulated addresses in first-seen order.
func (s *AddressSet) Items() []Address {
	out := make([]Address, len(s.items))
	copy(out, s.items)
	return out
}

// Len reports the number of distinct (kind, IP) records.
func (s *AddressSet) Len() int { return len(s.items) }
