package addressservice

import (
	"context"
	"strings"

	"google.golang.org/api/compute/v1"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
	"github.com/sz9751210/gcp-network-tool/globals"
	gcpinternal "github.com/sz9751210/gcp-network-tool/internal/gcp"
	"github.com/sz9751210/gcp-network-tool/internal/gcp/sdk"
)

// IP address inventory
// gcloud compute addresses list
// gcloud compute forwarding-rules list

// LBResolver turns a forwarding rule into load balancer detail. Nil
// detail is fine; resolution is best effort.
type LBResolver interface {
	Resolve(ctx context.Context, rule *compute.ForwardingRule, projectID string) *models.LoadBalancerDetail
}

type AddressService struct {
	session *gcpinternal.SafeSession
}

// New creates a new AddressService (legacy - uses ADC directly)
func New() *AddressService {
	return &AddressService{}
}

// NewWithSession creates an AddressService with a SafeSession for managed authentication
func NewWithSession(session *gcpinternal.SafeSession) *AddressService {
	return &AddressService{session: session}
}

func (as *AddressService) getService(ctx context.Context) (*compute.Service, error) {
	if as.session != nil {
		return sdk.CachedGetComputeService(ctx, as.session)
	}
	return compute.NewService(ctx)
}

// CollectAddresses produces one Address per real-world IP of the given
// kind in a project. Static reservations are walked first; forwarding
// rules whose IP has no reservation object are emitted in a second
// pass so ephemeral load balancer IPs are not lost. subnetNetworks
// maps subnet self links to network names and patches up internal
// reservations whose own network reference is blank.
func (as *AddressService) CollectAddresses(ctx context.Context, projectID string, kind models.AddressKind, resolver LBResolver, subnetNetworks map[string]string) ([]models.Address, error) {
	computeService, err := as.getService(ctx)
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}

	reservations, err := as.listReservations(ctx, computeService, projectID, kind)
	if err != nil {
		return nil, err
	}
	rules, err := as.listForwardingRules(ctx, computeService, projectID)
	if err != nil {
		return nil, err
	}

	return buildAddresses(ctx, projectID, kind, reservations, rules, resolver, subnetNetworks), nil
}

// buildAddresses is the pure assembly step, split out so the pipeline
// can be exercised without a live API.
func buildAddresses(ctx context.Context, projectID string, kind models.AddressKind, reservations []*compute.Address, rules []*compute.ForwardingRule, resolver LBResolver, subnetNetworks map[string]string) []models.Address {
	// IP literal -> forwarding rule, first match wins.
	ruleByIP := make(map[string]*compute.ForwardingRule)
	for _, r := range rules {
		if r.IPAddress == "" {
			continue
		}
		if _, ok := ruleByIP[r.IPAddress]; !ok {
			ruleByIP[r.IPAddress] = r
		}
	}

	set := models.NewAddressSet()
	for _, res := range reservations {
		addr := models.Address{
			IPAddress:   res.Address,
			Kind:        kind,
			ProjectID:   projectID,
			Region:      extractName(res.Region),
			Status:      res.Status,
			Description: res.Description,
			Labels:      res.Labels,
			VPC:         extractName(res.Network),
			Subnet:      extractName(res.Subnetwork),
		}
		if addr.VPC == "" && res.Subnetwork != "" && subnetNetworks != nil {
			addr.VPC = subnetNetworks[res.Subnetwork]
		}

		if rule, ok := ruleByIP[res.Address]; ok {
			addr.ResourceType = models.ResourceLoadBalancer
			addr.ResourceName = rule.Name
			if resolver != nil {
				addr.Details = resolver.Resolve(ctx, rule, projectID)
			}
		} else {
			addr.ResourceType, addr.ResourceName = classifyByUsers(res)
		}
		set.Add(addr)
	}

	// Second pass: forwarding rules without a reservation object.
	for _, rule := range rules {
		if rule.IPAddress == "" {
			continue
		}
		if _, ok := set.Get(kind, rule.IPAddress); ok {
			continue
		}
		if schemeKind(rule.LoadBalancingScheme) != kind {
			continue
		}
		addr := models.Address{
			IPAddress:    rule.IPAddress,
			Kind:         kind,
			ResourceType: models.ResourceLoadBalancer,
			ResourceName: rule.Name,
			ProjectID:    projectID,
			Region:       extractName(rule.Region),
			Status:       "IN_USE",
			VPC:          extractName(rule.Network),
			Subnet:       extractName(rule.Subnetwork),
		}
		if resolver != nil {
			addr.Details = resolver.Resolve(ctx, rule, projectID)
		}
		set.Add(addr)
	}

	return set.Items()
}

// classifyByUsers falls back to the reservation's user links when no
// forwarding rule claims the IP.
func classifyByUsers(res *compute.Address) (models.ResourceType, string) {
	for _, u := range res.Users {
		switch {
		case strings.Contains(u, "/instances/"):
			return models.ResourceVM, extractName(u)
		case strings.Contains(u, "/routers/"):
			return models.ResourceCloudNAT, extractName(u)
		case strings.Contains(u, "/forwardingRules/"):
			return models.ResourceLoadBalancer, extractName(u)
		}
	}
	if res.Status == "RESERVED" {
		return models.ResourceStaticReservation, res.Name
	}
	return models.ResourceUnknown, res.Name
}

// schemeKind maps a forwarding rule's load balancing scheme onto the
// address kind it serves. EXTERNAL and EXTERNAL_MANAGED face the
// internet; everything else is internal.
func schemeKind(scheme string) models.AddressKind {
	if strings.HasPrefix(scheme, "EXTERNAL") {
		return models.AddressExternal
	}
	return models.AddressInternal
}

func (as *AddressService) listReservations(ctx context.Context, computeService *compute.Service, projectID string, kind models.AddressKind) ([]*compute.Address, error) {
	var out []*compute.Address

	err := computeService.Addresses.AggregatedList(projectID).Context(ctx).Pages(ctx, func(page *compute.AddressAggregatedList) error {
		for _, scoped := range page.Items {
			for _, a := range scoped.Addresses {
				if addressKind(a) == kind {
					out = append(out, a)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}

	err = computeService.GlobalAddresses.List(projectID).Context(ctx).Pages(ctx, func(page *compute.AddressList) error {
		for _, a := range page.Items {
			if addressKind(a) == kind {
				out = append(out, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}
	return out, nil
}

func (as *AddressService) listForwardingRules(ctx context.Context, computeService *compute.Service, projectID string) ([]*compute.ForwardingRule, error) {
	var out []*compute.ForwardingRule

	err := computeService.ForwardingRules.AggregatedList(projectID).Context(ctx).Pages(ctx, func(page *compute.ForwardingRuleAggregatedList) error {
		for _, scoped := range page.Items {
			out = append(out, scoped.ForwardingRules...)
		}
		return nil
	})
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}

	err = computeService.GlobalForwardingRules.List(projectID).Context(ctx).Pages(ctx, func(page *compute.ForwardingRuleList) error {
		out = append(out, page.Items...)
		return nil
	})
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}
	return out, nil
}

// addressKind reads compute.Address.AddressType, which the API leaves
// empty for the external default.
func addressKind(a *compute.Address) models.AddressKind {
	if a.AddressType == "" || a.AddressType == "EXTERNAL" {
		return models.AddressExternal
	}
	return models.AddressInternal
}

func extractName(url string) string {
	if url == "" {
		return ""
	}
	splits := strings.Split(url, "/")
	return splits[len(splits)-1]
}
