package addressservice

import (
	"context"
	"testing"

	"google.golang.org/api/compute/v1"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
)

type stubResolver struct {
	resolved []string
}

func (r *stubResolver) Resolve(_ context.Context, rule *compute.ForwardingRule, _ string) *models.LoadBalancerDetail {
	r.resolved = append(r.resolved, rule.Name)
	return &models.LoadBalancerDetail{
		Frontend: &models.LBFrontend{IPPort: rule.IPAddress + ":443"},
	}
}

func byIP(addrs []models.Address) map[string]models.Address {
	m := make(map[string]models.Address, len(addrs))
	for _, a := range addrs {
		m[a.IPAddress] = a
	}
	return m
}

func TestBuildAddressesClassification(t *testing.T) {
	reservations := []*compute.Address{
		{
			Name:    "lb-ip",
			Address: "34.0.0.1",
			Status:  "IN_USE",
			Region:  "projects/p1/regions/us-central1",
		},
		{
			Name:    "vm-ip",
			Address: "34.0.0.2",
			Status:  "IN_USE",
			Users:   []string{"projects/p1/zones/us-central1-a/instances/web-1"},
		},
		{
			Name:    "nat-ip",
			Address: "34.0.0.3",
			Status:  "IN_USE",
			Users:   []string{"projects/p1/regions/us-central1/routers/nat-router"},
		},
		{
			Name:    "spare-ip",
			Address: "34.0.0.4",
			Status:  "RESERVED",
		},
	}
	rules := []*compute.ForwardingRule{
		{Name: "web-fr", IPAddress: "34.0.0.1", LoadBalancingScheme: "EXTERNAL"},
	}

	resolver := &stubResolver{}
	got := byIP(buildAddresses(context.Background(), "p1", models.AddressExternal, reservations, rules, resolver, nil))

	if len(got) != 4 {
		t.Fatalf("got %d addresses, want 4", len(got))
	}
	if a := got["34.0.0.1"]; a.ResourceType != models.ResourceLoadBalancer || a.Details == nil {
		t.Errorf("lb ip = %+v, want LoadBalancer with detail", a)
	}
	if a := got["34.0.0.2"]; a.ResourceType != models.ResourceVM || a.ResourceName != "web-1" {
		t.Errorf("vm ip = %+v, want VM/web-1", a)
	}
	if a := got["34.0.0.3"]; a.ResourceType != models.ResourceCloudNAT {
		t.Errorf("nat ip = %+v, want CloudNAT", a)
	}
	if a := got["34.0.0.4"]; a.ResourceType != models.ResourceStaticReservation {
		t.Errorf("spare ip = %+v, want StaticReservation", a)
	}
	if len(resolver.resolved) != 1 || resolver.resolved[0] != "web-fr" {
		t.Errorf("resolver calls = %v, want [web-fr]", resolver.resolved)
	}
}

func TestBuildAddressesEphemeralForwardingRules(t *testing.T) {
	rules := []*compute.ForwardingRule{
		// No reservation object exists for either IP.
		{Name: "edge-fr", IPAddress: "34.1.0.1", LoadBalancingScheme: "EXTERNAL_MANAGED"},
		{Name: "ilb-fr", IPAddress: "10.0.0.9", LoadBalancingScheme: "INTERNAL_MANAGED"},
	}

	external := buildAddresses(context.Background(), "p1", models.AddressExternal, nil, rules, nil, nil)
	if len(external) != 1 || external[0].IPAddress != "34.1.0.1" {
		t.Fatalf("external pass = %+v, want only 34.1.0.1", external)
	}
	if external[0].ResourceType != models.ResourceLoadBalancer || external[0].Status != "IN_USE" {
		t.Errorf("ephemeral record = %+v", external[0])
	}

	internal := buildAddresses(context.Background(), "p1", models.AddressInternal, nil, rules, nil, nil)
	if len(internal) != 1 || internal[0].IPAddress != "10.0.0.9" {
		t.Fatalf("internal pass = %+v, want only 10.0.0.9", internal)
	}
}

func TestBuildAddressesNoDuplicateForReservedLBIP(t *testing.T) {
	reservations := []*compute.Address{
		{Name: "lb-ip", Address: "34.2.0.1", Status: "IN_USE"},
	}
	rules := []*compute.ForwardingRule{
		{Name: "fr-a", IPAddress: "34.2.0.1", LoadBalancingScheme: "EXTERNAL"},
		// Duplicate IP in the rule list: first match wins.
		{Name: "fr-b", IPAddress: "34.2.0.1", LoadBalancingScheme: "EXTERNAL"},
	}

	got := buildAddresses(context.Background(), "p1", models.AddressExternal, reservations, rules, nil, nil)
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].ResourceName != "fr-a" {
		t.Errorf("resource name = %q, want fr-a", got[0].ResourceName)
	}
}

func TestBuildAddressesSubnetNetworkFallback(t *testing.T) {
	subnetLink := "projects/host/regions/us-east1/subnetworks/shared-subnet"
	reservations := []*compute.Address{
		{
			Name:        "ilb-ip",
			Address:     "10.8.0.4",
			Status:      "RESERVED",
			AddressType: "INTERNAL",
			Subnetwork:  subnetLink,
		},
	}

	got := buildAddresses(context.Background(), "p1", models.AddressInternal, reservations, nil, nil,
		map[string]string{subnetLink: "shared-vpc"})
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].VPC != "shared-vpc" {
		t.Errorf("vpc = %q, want shared-vpc via subnet map", got[0].VPC)
	}
}

func TestSchemeKind(t *testing.T) {
	cases := map[string]models.AddressKind{
		"EXTERNAL":         models.AddressExternal,
		"EXTERNAL_MANAGED": models.AddressExternal,
		"INTERNAL":         models.AddressInternal,
		"INTERNAL_MANAGED": models.AddressInternal,
		"":                 models.AddressInternal,
	}
	for scheme, want := range cases {
		if got := schemeKind(scheme); got != want {
			t.Errorf("schemeKind(%q) = %s, want %s", scheme, got, want)
		}
	}
}
