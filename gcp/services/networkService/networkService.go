package networkservice

import (
	"context"
	"strings"

	"google.golang.org/api/compute/v1"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
	"github.com/sz9751210/gcp-network-tool/globals"
	gcpinternal "github.com/sz9751210/gcp-network-tool/internal/gcp"
	"github.com/sz9751210/gcp-network-tool/internal/gcp/sdk"
)

// VPC networks and subnets
// gcloud compute networks list
// gcloud compute networks subnets list

type NetworkService struct {
	session *gcpinternal.SafeSession
}

// New creates a new NetworkService (legacy - uses ADC directly)
func New() *NetworkService {
	return &NetworkService{}
}

// NewWithSession creates a NetworkService with a SafeSession for managed authentication
func NewWithSession(session *gcpinternal.SafeSession) *NetworkService {
	return &NetworkService{session: session}
}

// getService returns a compute service, using cached wrapper if session is available
func (ns *NetworkService) getService(ctx context.Context) (*compute.Service, error) {
	if ns.session != nil {
		return sdk.CachedGetComputeService(ctx, ns.session)
	}
	return compute.NewService(ctx)
}

// Networks returns every VPC network in a project with its subnets
// folded in. Subnets come from one aggregated call rather than a
// region fan-out, then are joined to their network by self link.
func (ns *NetworkService) Networks(ctx context.Context, projectID string) ([]models.VPCNetwork, error) {
	computeService, err := ns.getService(ctx)
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}

	networkList, err := computeService.Networks.List(projectID).Context(ctx).Do()
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}

	subnetsByNetwork, err := ns.subnetsByNetwork(ctx, computeService, projectID)
	if err != nil {
		return nil, err
	}

	var networks []models.VPCNetwork
	for _, n := range networkList.Items {
		networks = append(networks, buildNetwork(n, projectID, subnetsByNetwork[n.SelfLink]))
	}
	return networks, nil
}

func (ns *NetworkService) subnetsByNetwork(ctx context.Context, computeService *compute.Service, projectID string) (map[string][]models.Subnet, error) {
	byNetwork := make(map[string][]models.Subnet)
	call := computeService.Subnetworks.AggregatedList(projectID).Context(ctx)
	err := call.Pages(ctx, func(page *compute.SubnetworkAggregatedList) error {
		for _, scoped := range page.Items {
			for _, sn := range scoped.Subnetworks {
				byNetwork[sn.Network] = append(byNetwork[sn.Network], buildSubnet(sn))
			}
		}
		return nil
	})
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}
	return byNetwork, nil
}

func buildNetwork(n *compute.Network, projectID string, subnets []models.Subnet) models.VPCNetwork {
	network := models.VPCNetwork{
		Name:                  n.Name,
		SelfLink:              n.SelfLink,
		ProjectID:             projectID,
		AutoCreateSubnetworks: n.AutoCreateSubnetworks,
		MTU:                   n.Mtu,
		Subnets:               subnets,
	}
	if n.RoutingConfig != nil {
		network.RoutingMode = n.RoutingConfig.RoutingMode
	}
	for _, p := range n.Peerings {
		network.Peerings = append(network.Peerings, models.Peering{
			Name:         p.Name,
			Network:      extractName(p.Network),
			State:        p.State,
			StateDetails: p.StateDetails,
		})
	}
	return network
}

func buildSubnet(sn *compute.Subnetwork) models.Subnet {
	subnet := models.Subnet{
		Name:                  sn.Name,
		Region:                extractName(sn.Region),
		IPCidrRange:           sn.IpCidrRange,
		GatewayIP:             sn.GatewayAddress,
		PrivateIPGoogleAccess: sn.PrivateIpGoogleAccess,
		Purpose:               sn.Purpose,
		SelfLink:              sn.SelfLink,
		Network:               sn.Network,
	}
	for _, r := range sn.SecondaryIpRanges {
		subnet.SecondaryIPRanges = append(subnet.SecondaryIPRanges, models.SecondaryRange{
			RangeName:   r.RangeName,
			IPCidrRange: r.IpCidrRange,
		})
	}
	return subnet
}

// Returns the last path segment of a GCP resource URL
func extractName(url string) string {
	splits := strings.Split(url, "/")
	return splits[len(splits)-1]
}
