package computeengineservice

import (
	"testing"

	"google.golang.org/api/compute/v1"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
)

func TestBuildInstance(t *testing.T) {
	inst := &compute.Instance{
		Name:        "web-1",
		Zone:        "projects/p1/zones/us-east1-b",
		MachineType: "projects/p1/zones/us-east1-b/machineTypes/e2-medium",
		Status:      "RUNNING",
		Tags:        &compute.Tags{Items: []string{"http-server"}},
		Labels:      map[string]string{"env": "prod"},
		NetworkInterfaces: []*compute.NetworkInterface{
			{
				Network:    "projects/p1/global/networks/prod-vpc",
				Subnetwork: "projects/p1/regions/us-east1/subnetworks/web-subnet",
				NetworkIP:  "10.0.1.4",
				AccessConfigs: []*compute.AccessConfig{
					{NatIP: "34.5.6.7"},
				},
			},
		},
		ServiceAccounts: []*compute.ServiceAccount{
			{Email: "web-sa@p1.iam.gserviceaccount.com"},
		},
	}

	got := buildInstance(inst, "p1")

	if got.Zone != "us-east1-b" || got.MachineType != "e2-medium" {
		t.Errorf("zone/type = %s/%s", got.Zone, got.MachineType)
	}
	if got.InternalIP != "10.0.1.4" || got.ExternalIP != "34.5.6.7" {
		t.Errorf("ips = %s/%s", got.InternalIP, got.ExternalIP)
	}
	if got.Network != "prod-vpc" || got.Subnet != "web-subnet" {
		t.Errorf("net = %s/%s", got.Network, got.Subnet)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "http-server" {
		t.Errorf("tags = %v", got.Tags)
	}
	if len(got.ServiceAccounts) != 1 {
		t.Errorf("service accounts = %v", got.ServiceAccounts)
	}
}

func TestGetExternalIPNoAccessConfig(t *testing.T) {
	inst := &compute.Instance{
		NetworkInterfaces: []*compute.NetworkInterface{
			{NetworkIP: "10.0.0.2"},
		},
	}
	if ip := getExternalIP(inst); ip != "" {
		t.Errorf("external ip = %q, want empty for NAT-only instance", ip)
	}
}

func TestInstanceAddresses(t *testing.T) {
	instances := []models.Instance{
		{Name: "web-1", ProjectID: "p1", Zone: "us-east1-b", InternalIP: "10.0.1.4", ExternalIP: "34.5.6.7", Network: "prod-vpc"},
		{Name: "worker-1", ProjectID: "p1", Zone: "us-east1-c", InternalIP: "10.0.1.5"},
	}

	external, internal := InstanceAddresses(instances)

	if len(external) != 1 || external[0].IPAddress != "34.5.6.7" {
		t.Fatalf("external = %+v", external)
	}
	if external[0].ResourceType != models.ResourceVM || external[0].Kind != models.AddressExternal {
		t.Errorf("external record = %+v", external[0])
	}
	if len(internal) != 2 {
		t.Fatalf("internal = %+v", internal)
	}
	for _, a := range internal {
		if a.Kind != models.AddressInternal || a.Status != "IN_USE" {
			t.Errorf("internal record = %+v", a)
		}
	}
}
