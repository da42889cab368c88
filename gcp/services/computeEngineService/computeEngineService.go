package computeengineservice

import (
	"context"
	"strings"

	"google.golang.org/api/compute/v1"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
	"github.com/sz9751210/gcp-network-tool/globals"
	gcpinternal "github.com/sz9751210/gcp-network-tool/internal/gcp"
	"github.com/sz9751210/gcp-network-tool/internal/gcp/sdk"
)

// Compute Engine instances
// gcloud compute instances list

type ComputeEngineService struct {
	session *gcpinternal.SafeSession

	// machine type (zone, name) -> spec, scoped to one project scan.
	// Populated sequentially by Instances; never shared across scans.
	machineTypes map[machineTypeKey]machineTypeSpec
}

type machineTypeKey struct {
	zone string
	name string
}

type machineTypeSpec struct {
	cpus     int64
	memoryMB int64
}

// New creates a new ComputeEngineService (legacy - uses ADC directly)
func New() *ComputeEngineService {
	return &ComputeEngineService{machineTypes: make(map[machineTypeKey]machineTypeSpec)}
}

// NewWithSession creates a ComputeEngineService with a SafeSession for managed authentication
func NewWithSession(session *gcpinternal.SafeSession) *ComputeEngineService {
	return &ComputeEngineService{
		session:      session,
		machineTypes: make(map[machineTypeKey]machineTypeSpec),
	}
}

func (ces *ComputeEngineService) getService(ctx context.Context) (*compute.Service, error) {
	if ces.session != nil {
		return sdk.CachedGetComputeService(ctx, ces.session)
	}
	return compute.NewService(ctx)
}

// Instances lists every VM in a project with machine type specs filled
// in from the per-scan cache. Spec lookup failure leaves the CPU and
// memory fields zero rather than failing the instance.
func (ces *ComputeEngineService) Instances(ctx context.Context, projectID string) ([]models.Instance, error) {
	computeService, err := ces.getService(ctx)
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}

	var instances []models.Instance
	err = computeService.Instances.AggregatedList(projectID).Context(ctx).Pages(ctx, func(page *compute.InstanceAggregatedList) error {
		for _, scoped := range page.Items {
			for _, inst := range scoped.Instances {
				info := buildInstance(inst, projectID)
				spec := ces.machineTypeSpec(ctx, computeService, projectID, info.Zone, info.MachineType)
				info.CPUCount = spec.cpus
				info.MemoryMB = spec.memoryMB
				instances = append(instances, info)
			}
		}
		return nil
	})
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}
	return instances, nil
}

func (ces *ComputeEngineService) machineTypeSpec(ctx context.Context, computeService *compute.Service, projectID, zone, machineType string) machineTypeSpec {
	if zone == "" || machineType == "" {
		return machineTypeSpec{}
	}
	key := machineTypeKey{zone: zone, name: machineType}
	if spec, ok := ces.machineTypes[key]; ok {
		return spec
	}

	spec := machineTypeSpec{}
	if mt, err := computeService.MachineTypes.Get(projectID, zone, machineType).Context(ctx).Do(); err == nil {
		spec = machineTypeSpec{cpus: mt.GuestCpus, memoryMB: mt.MemoryMb}
	}
	ces.machineTypes[key] = spec
	return spec
}

func buildInstance(inst *compute.Instance, projectID string) models.Instance {
	info := models.Instance{
		Name:              inst.Name,
		ProjectID:         projectID,
		Zone:              extractName(inst.Zone),
		MachineType:       extractName(inst.MachineType),
		Status:            inst.Status,
		InternalIP:        getInternalIP(inst),
		ExternalIP:        getExternalIP(inst),
		Labels:            inst.Labels,
		CreationTimestamp: inst.CreationTimestamp,
	}
	if inst.Tags != nil {
		info.Tags = inst.Tags.Items
	}
	if len(inst.NetworkInterfaces) > 0 {
		info.Network = extractName(inst.NetworkInterfaces[0].Network)
		info.Subnet = extractName(inst.NetworkInterfaces[0].Subnetwork)
	}
	for _, sa := range inst.ServiceAccounts {
		info.ServiceAccounts = append(info.ServiceAccounts, sa.Email)
	}
	return info
}

func getInternalIP(inst *compute.Instance) string {
	if len(inst.NetworkInterfaces) > 0 {
		return inst.NetworkInterfaces[0].NetworkIP
	}
	return ""
}

func getExternalIP(inst *compute.Instance) string {
	for _, ni := range inst.NetworkInterfaces {
		for _, ac := range ni.AccessConfigs {
			if ac.NatIP != "" {
				return ac.NatIP
			}
		}
	}
	return ""
}

func extractName(url string) string {
	if url == "" {
		return ""
	}
	splits := strings.Split(url, "/")
	return splits[len(splits)-1]
}

// InstanceAddresses derives the Address records an instance scan
// contributes to the merge: external NAT IPs and in-use internal NIC
// IPs, both classified VM.
func InstanceAddresses(instances []models.Instance) (external, internal []models.Address) {
	for _, inst := range instances {
		if inst.ExternalIP != "" {
			external = append(external, models.Address{
				IPAddress:    inst.ExternalIP,
				Kind:         models.AddressExternal,
				ResourceType: models.ResourceVM,
				ResourceName: inst.Name,
				ProjectID:    inst.ProjectID,
				Zone:         inst.Zone,
				Status:       "IN_USE",
				VPC:          inst.Network,
				Subnet:       inst.Subnet,
			})
		}
		if inst.InternalIP != "" {
			internal = append(internal, models.Address{
				IPAddress:    inst.InternalIP,
				Kind:         models.AddressInternal,
				ResourceType: models.ResourceVM,
				ResourceName: inst.Name,
				ProjectID:    inst.ProjectID,
				Zone:         inst.Zone,
				Status:       "IN_USE",
				VPC:          inst.Network,
				Subnet:       inst.Subnet,
			})
		}
	}
	return external, internal
}
