package firewallservice

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/compute/v1"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
	"github.com/sz9751210/gcp-network-tool/globals"
	gcpinternal "github.com/sz9751210/gcp-network-tool/internal/gcp"
	"github.com/sz9751210/gcp-network-tool/internal/gcp/sdk"
)

// VPC firewall rules and Cloud Armor policies
// gcloud compute firewall-rules list
// gcloud compute security-policies list

type FirewallService struct {
	session *gcpinternal.SafeSession
}

// New creates a new FirewallService (legacy - uses ADC directly)
func New() *FirewallService {
	return &FirewallService{}
}

// NewWithSession creates a FirewallService with a SafeSession for managed authentication
func NewWithSession(session *gcpinternal.SafeSession) *FirewallService {
	return &FirewallService{session: session}
}

func (fs *FirewallService) getService(ctx context.Context) (*compute.Service, error) {
	if fs.session != nil {
		return sdk.CachedGetComputeService(ctx, fs.session)
	}
	return compute.NewService(ctx)
}

// FirewallRules returns every VPC firewall rule in a project.
func (fs *FirewallService) FirewallRules(ctx context.Context, projectID string) ([]models.FirewallRule, error) {
	computeService, err := fs.getService(ctx)
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}

	var rules []models.FirewallRule
	err = computeService.Firewalls.List(projectID).Context(ctx).Pages(ctx, func(page *compute.FirewallList) error {
		for _, fw := range page.Items {
			rules = append(rules, buildFirewallRule(fw, projectID))
		}
		return nil
	})
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}
	return rules, nil
}

// SecurityPolicies returns every Cloud Armor policy in a project with
// its rules normalized to a single match-expression representation.
func (fs *FirewallService) SecurityPolicies(ctx context.Context, projectID string) ([]models.SecurityPolicy, error) {
	computeService, err := fs.getService(ctx)
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}

	var policies []models.SecurityPolicy
	err = computeService.SecurityPolicies.List(projectID).Context(ctx).Pages(ctx, func(page *compute.SecurityPolicyList) error {
		for _, sp := range page.Items {
			policies = append(policies, buildSecurityPolicy(sp, projectID))
		}
		return nil
	})
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.COMPUTE_API)
	}
	return policies, nil
}

func buildFirewallRule(fw *compute.Firewall, projectID string) models.FirewallRule {
	rule := models.FirewallRule{
		Name:              fw.Name,
		Direction:         fw.Direction,
		Action:            firewallAction(fw),
		Priority:          fw.Priority,
		SourceRanges:      fw.SourceRanges,
		DestinationRanges: fw.DestinationRanges,
		SourceTags:        fw.SourceTags,
		TargetTags:        fw.TargetTags,
		VPCNetwork:        extractName(fw.Network),
		ProjectID:         projectID,
		Disabled:          fw.Disabled,
		Description:       fw.Description,
	}
	for _, a := range fw.Allowed {
		rule.Allowed = append(rule.Allowed, models.ProtocolPorts{IPProtocol: a.IPProtocol, Ports: a.Ports})
	}
	for _, d := range fw.Denied {
		rule.Denied = append(rule.Denied, models.ProtocolPorts{IPProtocol: d.IPProtocol, Ports: d.Ports})
	}
	return rule
}

// firewallAction classifies a rule by which tuple list it carries. The
// API guarantees exactly one of Allowed/Denied is non-empty.
func firewallAction(fw *compute.Firewall) string {
	if len(fw.Allowed) > 0 {
		return "ALLOW"
	}
	return "DENY"
}

func buildSecurityPolicy(sp *compute.SecurityPolicy, projectID string) models.SecurityPolicy {
	policy := models.SecurityPolicy{
		Name:        sp.Name,
		Description: sp.Description,
		ProjectID:   projectID,
		SelfLink:    sp.SelfLink,
	}
	if sp.AdaptiveProtectionConfig != nil && sp.AdaptiveProtectionConfig.Layer7DdosDefenseConfig != nil {
		policy.AdaptiveProtectionEnabled = sp.AdaptiveProtectionConfig.Layer7DdosDefenseConfig.Enable
	}
	for _, r := range sp.Rules {
		policy.Rules = append(policy.Rules, models.SecurityPolicyRule{
			Priority:        r.Priority,
			Action:          r.Action,
			Description:     r.Description,
			MatchExpression: matchExpression(r.Match),
			Preview:         r.Preview,
		})
	}
	return policy
}

// matchExpression returns the rule's CEL expression. Rules written in
// basic mode carry literal source ranges instead, which are rewritten
// into an equivalent expression so every rule reads the same way.
func matchExpression(m *compute.SecurityPolicyRuleMatcher) string {
	if m == nil {
		return ""
	}
	if m.Expr != nil && m.Expr.Expression != "" {
		return m.Expr.Expression
	}
	if m.Config != nil && len(m.Config.SrcIpRanges) > 0 {
		terms := make([]string, len(m.Config.SrcIpRanges))
		for i, r := range m.Config.SrcIpRanges {
			terms[i] = fmt.Sprintf("inIpRange(origin.ip, '%s')", r)
		}
		return strings.Join(terms, " || ")
	}
	return ""
}

func extractName(url string) string {
	splits := strings.Split(url, "/")
	return splits[len(splits)-1]
}
