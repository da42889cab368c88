package cli

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sz9751210/gcp-network-tool/api"
	"github.com/sz9751210/gcp-network-tool/gcp/cidr"
	"github.com/sz9751210/gcp-network-tool/gcp/models"
	"github.com/sz9751210/gcp-network-tool/gcp/scanner"
	"github.com/sz9751210/gcp-network-tool/gcp/security"
	"github.com/sz9751210/gcp-network-tool/globals"
	"github.com/sz9751210/gcp-network-tool/internal"
	gcpinternal "github.com/sz9751210/gcp-network-tool/internal/gcp"
	"github.com/sz9751210/gcp-network-tool/internal/creds"
	"github.com/sz9751210/gcp-network-tool/internal/store"
)

var (
	// scan target options
	SourceType string
	SourceID   string

	// scan feature toggles
	SkipInstances bool
	SkipGKE       bool
	SkipWorkloads bool
	SkipBuckets   bool

	// pool sizing
	ProjectWorkers  int
	ResourceWorkers int

	// storage and serving
	DataDirectory string
	ListenAddr    string

	// logger
	Logger = internal.NewLogger()

	RootCmd = &cobra.Command{
		Use:   "gcp-network-tool",
		Short: "Scan GCP projects into a network topology and plan against it",
		Long:  "Scans projects, folders or organizations into a topology snapshot: VPCs, subnets, addresses, load balancers, firewalls, GKE and buckets. Snapshots feed CIDR planning and security reporting.",
	}

	ScanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Run a topology scan and store the snapshot",
		Run:   runScan,
	}

	ServeCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API over the snapshot store",
		Run:   runServe,
	}

	CheckCIDRCmd = &cobra.Command{
		Use:   "check-cidr <cidr>",
		Short: "Check a CIDR range against the latest snapshot",
		Args:  cobra.ExactArgs(1),
		Run:   runCheckCIDR,
	}

	ReportCmd = &cobra.Command{
		Use:   "report",
		Short: "Print the security and cost findings for the latest snapshot",
		Run:   runReport,
	}

	CredsCmd = &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored service account keys",
	}

	CredsAddCmd = &cobra.Command{
		Use:   "add <name> <key-file>",
		Short: "Validate and store a service account key",
		Args:  cobra.ExactArgs(2),
		Run:   runCredsAdd,
	}

	CredsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored credentials",
		Run:   runCredsList,
	}

	CredsActivateCmd = &cobra.Command{
		Use:   "activate <name>",
		Short: "Select the credential scans use",
		Args:  cobra.ExactArgs(1),
		Run:   runCredsActivate,
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&DataDirectory, "data-dir", defaultDataDir(), "Directory for snapshots and credentials")

	ScanCmd.Flags().StringVarP(&SourceType, "type", "t", "project", "Scan target type: project, projects, folder, organization, all_accessible")
	ScanCmd.Flags().StringVarP(&SourceID, "id", "i", "", "Target id: project id, comma list, folder id or organization id")
	ScanCmd.Flags().BoolVar(&SkipInstances, "skip-instances", false, "Skip Compute Engine instance scanning")
	ScanCmd.Flags().BoolVar(&SkipGKE, "skip-gke", false, "Skip GKE cluster scanning")
	ScanCmd.Flags().BoolVar(&SkipWorkloads, "skip-workloads", false, "List clusters but do not connect to their control planes")
	ScanCmd.Flags().BoolVar(&SkipBuckets, "skip-buckets", false, "Skip Cloud Storage bucket scanning")
	ScanCmd.Flags().IntVar(&ProjectWorkers, "project-workers", globals.DEFAULT_PROJECT_WORKERS, "Concurrent project scans")
	ScanCmd.Flags().IntVar(&ResourceWorkers, "resource-workers", globals.DEFAULT_RESOURCE_WORKERS, "Concurrent resource scans per project")

	ServeCmd.Flags().StringVarP(&ListenAddr, "listen", "l", ":8080", "Listen address")

	CredsCmd.AddCommand(CredsAddCmd, CredsListCmd, CredsActivateCmd)
	RootCmd.AddCommand(ScanCmd, ServeCmd, CheckCIDRCmd, ReportCmd, CredsCmd)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gcp-network-tool"
	}
	return filepath.Join(home, ".gcp-network-tool")
}

func openStore() *store.SnapshotStore {
	snapshots, err := store.NewSnapshotStore(afero.NewOsFs(), filepath.Join(DataDirectory, "scans"))
	if err != nil {
		Logger.FatalM(fmt.Sprintf("opening snapshot store: %v", err), globals.GCP_STORE_MODULE_NAME)
	}
	return snapshots
}

func openCreds() *creds.Manager {
	manager, err := creds.NewManager(afero.NewOsFs(), filepath.Join(DataDirectory, "credentials"))
	if err != nil {
		Logger.FatalM(fmt.Sprintf("opening credential store: %v", err), globals.GCP_CREDS_MODULE_NAME)
	}
	return manager
}

// newSession prefers the active stored credential and falls back to
// application default credentials.
func newSession(ctx context.Context) *gcpinternal.SafeSession {
	manager := openCreds()
	if path, err := manager.ActiveKeyPath(); err == nil {
		if _, raw, err := manager.ActiveKey(); err == nil {
			session, err := gcpinternal.NewSessionFromKeyFile(ctx, path, raw)
			if err == nil {
				return session
			}
			Logger.ErrorM(fmt.Sprintf("stored credential unusable, falling back to ADC: %v", err), globals.GCP_CREDS_MODULE_NAME)
		}
	}
	session, err := gcpinternal.NewSafeSession(ctx)
	if err != nil {
		Logger.FatalM(fmt.Sprintf("no usable credentials: %v", err), globals.GCP_CREDS_MODULE_NAME)
	}
	return session
}

func scanOptions() scanner.ScanOptions {
	opts := scanner.DefaultScanOptions()
	opts.ScanInstances = !SkipInstances
	opts.ScanGKE = !SkipGKE
	opts.ScanWorkloads = !SkipWorkloads
	opts.ScanBuckets = !SkipBuckets
	opts.ProjectWorkers = ProjectWorkers
	opts.ResourceWorkers = ResourceWorkers
	return opts
}

func runScan(cmd *cobra.Command, args []string) {
	if SourceID == "" && SourceType != "all_accessible" {
		Logger.FatalM("--id is required unless --type all_accessible", globals.GCP_SCANNER_MODULE_NAME)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	session := newSession(ctx)
	aggregator := scanner.NewTopologyAggregator(session, openStore())

	Logger.InfoMf(globals.GCP_SCANNER_MODULE_NAME, "scanning %s %s", SourceType, SourceID)
	topology, err := aggregator.RunScan(ctx, SourceType, SourceID, scanOptions())
	if err != nil {
		Logger.FatalM(err.Error(), globals.GCP_SCANNER_MODULE_NAME)
	}

	fmt.Printf("\nScan %s\n", topology.ScanID)
	fmt.Printf("  projects: %d (%d failed)\n", topology.TotalProjects, topology.FailedProjects)
	fmt.Printf("  vpcs: %d, subnets: %d\n", topology.TotalVPCs, topology.TotalSubnets)
	fmt.Printf("  public ips: %d, internal ips: %d\n", len(topology.PublicIPs), len(topology.UsedInternalIPs))
	fmt.Printf("  firewall rules: %d, backend services: %d\n", len(topology.FirewallRules), len(topology.BackendServices))
	if topology.FailedProjects > 0 {
		for _, p := range topology.Projects {
			if p.ScanStatus != models.ScanSuccess {
				color.Yellow("  %s: %s (%s)", p.ProjectID, p.ScanStatus, p.ErrorMessage)
			}
		}
	}
}

func runServe(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	session := newSession(ctx)
	snapshots := openStore()
	aggregator := scanner.NewTopologyAggregator(session, snapshots)

	server := api.NewServer(snapshots, openCreds(), aggregator)
	if err := server.Listen(ListenAddr); err != nil {
		Logger.FatalM(err.Error(), globals.GCP_API_MODULE_NAME)
	}
}

func latestTopology() *models.Topology {
	record, err := openStore().GetLatestCompleted()
	if err != nil || record.Topology == nil {
		Logger.FatalM("no completed scan found, run `scan` first", globals.GCP_STORE_MODULE_NAME)
	}
	return record.Topology
}

func runCheckCIDR(cmd *cobra.Command, args []string) {
	topology := latestTopology()
	candidate := args[0]

	conflicts, err := cidr.FindConflicts(candidate, topology)
	if err != nil {
		Logger.FatalM(err.Error(), globals.GCP_CIDR_MODULE_NAME)
	}
	if len(conflicts) == 0 {
		color.Green("%s is available", candidate)
		return
	}

	color.Red("%s collides with %d allocated range(s):", candidate, len(conflicts))
	for _, c := range conflicts {
		name := c.Subnet
		if c.RangeName != "" {
			name += " (" + c.RangeName + ")"
		}
		fmt.Printf("  %s / %s / %s  %s  [%s]\n", c.ProjectID, c.Network, name, c.CIDR, c.Overlap)
	}

	suggestions, err := cidr.SuggestAvailable(topology, "", prefixLenOf(candidate), 5)
	if err == nil && len(suggestions) > 0 {
		fmt.Println("\nFree alternatives:")
		for _, s := range suggestions {
			fmt.Printf("  %s\n", s)
		}
	}
}

func prefixLenOf(cidrStr string) int {
	prefix, err := netip.ParsePrefix(cidrStr)
	if err != nil {
		return 24
	}
	return prefix.Bits()
}

func runReport(cmd *cobra.Command, args []string) {
	report := security.Analyze(latestTopology())
	if len(report.Issues) == 0 {
		color.Green("no findings")
		return
	}

	paint := map[security.Severity]func(format string, a ...interface{}){
		security.SeverityCritical: color.Red,
		security.SeverityHigh:     color.Red,
		security.SeverityMedium:   color.Yellow,
		security.SeverityLow:      color.Cyan,
	}
	for _, issue := range report.Issues {
		paint[issue.Severity]("[%s/%s] %s", issue.Severity, issue.Category, issue.Description)
		if issue.Recommendation != "" {
			fmt.Printf("    %s\n", issue.Recommendation)
		}
	}
	fmt.Printf("\n%d finding(s): %d critical, %d high, %d medium, %d low\n",
		len(report.Issues),
		report.Summary[security.SeverityCritical],
		report.Summary[security.SeverityHigh],
		report.Summary[security.SeverityMedium],
		report.Summary[security.SeverityLow])
}

func runCredsAdd(cmd *cobra.Command, args []string) {
	raw, err := os.ReadFile(args[1])
	if err != nil {
		Logger.FatalM(fmt.Sprintf("reading key file: %v", err), globals.GCP_CREDS_MODULE_NAME)
	}
	cred, err := openCreds().Add(args[0], raw)
	if err != nil {
		Logger.FatalM(err.Error(), globals.GCP_CREDS_MODULE_NAME)
	}
	Logger.SuccessM(fmt.Sprintf("stored %s (%s)", cred.Name, cred.ClientEmail), globals.GCP_CREDS_MODULE_NAME)
}

func runCredsList(cmd *cobra.Command, args []string) {
	list, err := openCreds().List()
	if err != nil {
		Logger.FatalM(err.Error(), globals.GCP_CREDS_MODULE_NAME)
	}
	if len(list) == 0 {
		fmt.Println("no credentials stored")
		return
	}
	for _, c := range list {
		marker := " "
		if c.Active {
			marker = "*"
		}
		fmt.Printf("%s %s  %s  %s\n", marker, c.Name, c.ProjectID, c.ClientEmail)
	}
}

func runCredsActivate(cmd *cobra.Command, args []string) {
	if err := openCreds().Activate(args[0]); err != nil {
		Logger.FatalM(err.Error(), globals.GCP_CREDS_MODULE_NAME)
	}
	Logger.SuccessM(fmt.Sprintf("%s is now active", args[0]), globals.GCP_CREDS_MODULE_NAME)
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
