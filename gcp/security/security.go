// Package security derives a findings report from a scanned topology.
package security

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
)

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

type Category string

const (
	CategorySecurity Category = "SECURITY"
	CategoryCost     Category = "COST"
)

// riskyPorts maps well-known sensitive ports to their service names.
var riskyPorts = map[int]string{
	22:   "SSH",
	3389: "RDP",
	21:   "FTP",
	23:   "Telnet",
	3306: "MySQL",
	5432: "PostgreSQL",
}

// Issue is one finding.
type Issue struct {
	Severity       Severity `json:"severity"`
	Category       Category `json:"category"`
	ResourceType   string   `json:"resource_type"`
	ResourceName   string   `json:"resource_name"`
	ProjectID      string   `json:"project_id"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Report bundles the findings for one snapshot.
type Report struct {
	ScanID      string           `json:"scan_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Issues      []Issue          `json:"issues"`
	Summary     map[Severity]int `json:"summary"`
}

// Analyze walks the topology and collects findings: over-broad ingress
// rules, reserved-but-unattached addresses, expiring certificates and
// publicly readable buckets.
func Analyze(topology *models.Topology) Report {
	report := Report{
		ScanID:      topology.ScanID,
		GeneratedAt: time.Now().UTC(),
		Summary:     make(map[Severity]int),
	}

	for _, rule := range topology.FirewallRules {
		if issue, ok := checkFirewallRule(rule); ok {
			report.Issues = append(report.Issues, issue)
		}
	}
	for _, addr := range topology.PublicIPs {
		if issue, ok := checkUnattachedReservation(addr); ok {
			report.Issues = append(report.Issues, issue)
		}
		report.Issues = append(report.Issues, checkCertificates(addr)...)
	}
	for _, addr := range topology.UsedInternalIPs {
		if issue, ok := checkUnattachedReservation(addr); ok {
			report.Issues = append(report.Issues, issue)
		}
	}
	for _, bucket := range topology.Buckets {
		if bucket.IsPublic() {
			report.Issues = append(report.Issues, Issue{
				Severity:       SeverityHigh,
				Category:       CategorySecurity,
				ResourceType:   "Bucket",
				ResourceName:   bucket.Name,
				ProjectID:      bucket.ProjectID,
				Description:    fmt.Sprintf("bucket %s grants access to allUsers or allAuthenticatedUsers", bucket.Name),
				Recommendation: "remove the public IAM binding unless the bucket intentionally serves public content",
			})
		}
	}

	for _, issue := range report.Issues {
		report.Summary[issue.Severity]++
	}
	return report
}

// checkFirewallRule flags ingress allows open to the whole internet.
// Everything-open is critical; admin ports are high; the remaining
// well-known service ports are medium.
func checkFirewallRule(rule models.FirewallRule) (Issue, bool) {
	if rule.Disabled || rule.Action != "ALLOW" || rule.Direction != "INGRESS" {
		return Issue{}, false
	}
	open := false
	for _, src := range rule.SourceRanges {
		if src == "0.0.0.0/0" {
			open = true
			break
		}
	}
	if !open {
		return Issue{}, false
	}

	issue := Issue{
		Category:     CategorySecurity,
		ResourceType: "FirewallRule",
		ResourceName: rule.Name,
		ProjectID:    rule.ProjectID,
	}

	for _, allowed := range rule.Allowed {
		proto := strings.ToLower(allowed.IPProtocol)
		if proto == "all" || ((proto == "tcp" || proto == "udp") && len(allowed.Ports) == 0) {
			issue.Severity = SeverityCritical
			issue.Description = fmt.Sprintf("rule %s allows all traffic from 0.0.0.0/0", rule.Name)
			issue.Recommendation = "restrict the source ranges or limit the rule to specific ports"
			return issue, true
		}
	}

	var exposed []string
	severity := Severity("")
	for _, allowed := range rule.Allowed {
		for _, portSpec := range allowed.Ports {
			for port, service := range riskyPorts {
				if !portSpecCovers(portSpec, port) {
					continue
				}
				exposed = append(exposed, fmt.Sprintf("%s (%d)", service, port))
				if port == 22 || port == 3389 {
					severity = SeverityHigh
				} else if severity != SeverityHigh {
					severity = SeverityMedium
				}
			}
		}
	}
	if severity == "" {
		return Issue{}, false
	}

	issue.Severity = severity
	issue.Description = fmt.Sprintf("rule %s exposes %s to 0.0.0.0/0", rule.Name, strings.Join(exposed, ", "))
	issue.Recommendation = "limit the source ranges to trusted networks or use IAP for administrative access"
	return issue, true
}

// portSpecCovers reports whether a spec like "22" or "1000-2000"
// includes the port.
func portSpecCovers(spec string, port int) bool {
	if lo, hi, ok := strings.Cut(spec, "-"); ok {
		start, err1 := strconv.Atoi(lo)
		end, err2 := strconv.Atoi(hi)
		return err1 == nil && err2 == nil && port >= start && port <= end
	}
	p, err := strconv.Atoi(spec)
	return err == nil && p == port
}

// checkUnattachedReservation flags reserved addresses that bill
// without serving anything.
func checkUnattachedReservation(addr models.Address) (Issue, bool) {
	if addr.Status != "RESERVED" {
		return Issue{}, false
	}
	if addr.ResourceType != models.ResourceStaticReservation && addr.ResourceType != models.ResourceUnused {
		return Issue{}, false
	}
	return Issue{
		Severity:       SeverityLow,
		Category:       CategoryCost,
		ResourceType:   "Address",
		ResourceName:   addr.ResourceName,
		ProjectID:      addr.ProjectID,
		Description:    fmt.Sprintf("static address %s (%s) is reserved but attached to nothing", addr.IPAddress, addr.ResourceName),
		Recommendation: "release the reservation if it is no longer needed",
	}, true
}

// checkCertificates grades certificate expiry on the address's load
// balancer frontend: expired, under 30 days, under 60 days.
func checkCertificates(addr models.Address) []Issue {
	if addr.Details == nil || addr.Details.Frontend == nil {
		return nil
	}
	now := time.Now().UTC()

	var issues []Issue
	for _, cert := range addr.Details.Frontend.CertificateDetails {
		if cert.Expiry.IsZero() {
			continue
		}
		remaining := cert.Expiry.Sub(now)
		var severity Severity
		var desc string
		switch {
		case remaining <= 0:
			severity = SeverityCritical
			desc = fmt.Sprintf("certificate %s on %s expired on %s", cert.Name, addr.IPAddress, cert.Expiry.Format("2006-01-02"))
		case remaining < 30*24*time.Hour:
			severity = SeverityHigh
			desc = fmt.Sprintf("certificate %s on %s expires within 30 days (%s)", cert.Name, addr.IPAddress, cert.Expiry.Format("2006-01-02"))
		case remaining < 60*24*time.Hour:
			severity = SeverityMedium
			desc = fmt.Sprintf("certificate %s on %s expires within 60 days (%s)", cert.Name, addr.IPAddress, cert.Expiry.Format("2006-01-02"))
		default:
			continue
		}
		issues = append(issues, Issue{
			Severity:       severity,
			Category:       CategorySecurity,
			ResourceType:   "Certificate",
			ResourceName:   cert.Name,
			ProjectID:      addr.ProjectID,
			Description:    desc,
			Recommendation: "renew the certificate before traffic is disrupted",
		})
	}
	return issues
}
