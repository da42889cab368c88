package gkeservice

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	container "google.golang.org/api/container/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
	"github.com/sz9751210/gcp-network-tool/globals"
	"github.com/sz9751210/gcp-network-tool/internal"
	gcpinternal "github.com/sz9751210/gcp-network-tool/internal/gcp"
	"github.com/sz9751210/gcp-network-tool/internal/gcp/sdk"
)

// GKE clusters and their workloads
// gcloud container clusters list

// workloadTimeout bounds each control plane call. A hung API server
// must not stall the project scan.
const workloadTimeout = 30 * time.Second

type GKEService struct {
	session *gcpinternal.SafeSession
	logger  internal.Logger

	// newClientset is swapped by tests to avoid dialing control planes.
	newClientset func(ctx context.Context, cluster *container.Cluster) (kubernetes.Interface, error)
}

// New creates a new GKEService (legacy - uses ADC directly)
func New() *GKEService {
	svc := &GKEService{logger: internal.NewLogger()}
	svc.newClientset = svc.clientsetForCluster
	return svc
}

// NewWithSession creates a GKEService with a SafeSession for managed authentication
func NewWithSession(session *gcpinternal.SafeSession) *GKEService {
	svc := &GKEService{session: session, logger: internal.NewLogger()}
	svc.newClientset = svc.clientsetForCluster
	return svc
}

func (gs *GKEService) getService(ctx context.Context) (*container.Service, error) {
	if gs.session != nil {
		return sdk.CachedGetContainerService(ctx, gs.session)
	}
	return container.NewService(ctx)
}

// Clusters lists every cluster in a project across all locations. When
// withWorkloads is set, each reachable control plane is inventoried
// over a small bounded pool; a cluster whose control plane cannot be
// reached keeps WorkloadsScanned false and an empty inventory.
func (gs *GKEService) Clusters(ctx context.Context, projectID string, withWorkloads bool) ([]models.GKECluster, error) {
	containerService, err := gs.getService(ctx)
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.CONTAINER_API)
	}

	parent := fmt.Sprintf("projects/%s/locations/-", projectID)
	resp, err := containerService.Projects.Locations.Clusters.List(parent).Context(ctx).Do()
	if err != nil {
		return nil, gcpinternal.ParseGCPError(err, globals.CONTAINER_API)
	}

	clusters := make([]models.GKECluster, len(resp.Clusters))
	for i, c := range resp.Clusters {
		clusters[i] = buildCluster(c, projectID)
	}

	if withWorkloads {
		gs.scanWorkloads(ctx, resp.Clusters, clusters)
	}
	return clusters, nil
}

func (gs *GKEService) scanWorkloads(ctx context.Context, raw []*container.Cluster, clusters []models.GKECluster) {
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, globals.DEFAULT_CLUSTER_WORKERS)
	var mu sync.Mutex

	for i := range raw {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			workloads, err := gs.clusterWorkloads(ctx, raw[i])
			if err != nil {
				gs.logger.ErrorMf(globals.GCP_GKE_MODULE_NAME, "workload scan for cluster %s: %v", raw[i].Name, err)
				return
			}
			mu.Lock()
			clusters[i].Workloads = workloads
			clusters[i].WorkloadsScanned = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()
}

func (gs *GKEService) clusterWorkloads(ctx context.Context, cluster *container.Cluster) ([]models.WorkloadObject, error) {
	clientset, err := gs.newClientset(ctx, cluster)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, workloadTimeout)
	defer cancel()

	var workloads []models.WorkloadObject

	deployments, err := clientset.AppsV1().Deployments(metav1.NamespaceAll).List(callCtx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	for _, d := range deployments.Items {
		workloads = append(workloads, models.WorkloadObject{
			Kind:      "Deployment",
			Namespace: d.Namespace,
			Name:      d.Name,
			Detail:    fmt.Sprintf("%d/%d replicas ready", d.Status.ReadyReplicas, d.Status.Replicas),
		})
	}

	services, err := clientset.CoreV1().Services(metav1.NamespaceAll).List(callCtx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	for _, s := range services.Items {
		detail := fmt.Sprintf("%s %s", s.Spec.Type, s.Spec.ClusterIP)
		for _, ing := range s.Status.LoadBalancer.Ingress {
			if ing.IP != "" {
				detail += " lb:" + ing.IP
			}
		}
		workloads = append(workloads, models.WorkloadObject{
			Kind:      "Service",
			Namespace: s.Namespace,
			Name:      s.Name,
			Detail:    detail,
		})
	}

	pods, err := clientset.CoreV1().Pods(metav1.NamespaceAll).List(callCtx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}
	for _, p := range pods.Items {
		detail := string(p.Status.Phase)
		if p.Status.PodIP != "" {
			detail += " " + p.Status.PodIP
		}
		workloads = append(workloads, models.WorkloadObject{
			Kind:      "Pod",
			Namespace: p.Namespace,
			Name:      p.Name,
			Detail:    detail,
		})
	}

	ingresses, err := clientset.NetworkingV1().Ingresses(metav1.NamespaceAll).List(callCtx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing ingresses: %w", err)
	}
	for _, ing := range ingresses.Items {
		var hosts []string
		for _, rule := range ing.Spec.Rules {
			if rule.Host != "" {
				hosts = append(hosts, rule.Host)
			}
		}
		workloads = append(workloads, models.WorkloadObject{
			Kind:      "Ingress",
			Namespace: ing.Namespace,
			Name:      ing.Name,
			Detail:    strings.Join(hosts, ","),
		})
	}

	configMaps, err := clientset.CoreV1().ConfigMaps(metav1.NamespaceAll).List(callCtx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing configmaps: %w", err)
	}
	for _, cm := range configMaps.Items {
		workloads = append(workloads, models.WorkloadObject{
			Kind:      "ConfigMap",
			Namespace: cm.Namespace,
			Name:      cm.Name,
			Detail:    fmt.Sprintf("%d keys", len(cm.Data)),
		})
	}

	// Secrets: names and type only, payloads are never read.
	secrets, err := clientset.CoreV1().Secrets(metav1.NamespaceAll).List(callCtx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing secrets: %w", err)
	}
	for _, s := range secrets.Items {
		workloads = append(workloads, models.WorkloadObject{
			Kind:      "Secret",
			Namespace: s.Namespace,
			Name:      s.Name,
			Detail:    string(s.Type),
		})
	}

	pvcs, err := clientset.CoreV1().PersistentVolumeClaims(metav1.NamespaceAll).List(callCtx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing persistent volume claims: %w", err)
	}
	for _, pvc := range pvcs.Items {
		workloads = append(workloads, models.WorkloadObject{
			Kind:      "PersistentVolumeClaim",
			Namespace: pvc.Namespace,
			Name:      pvc.Name,
			Detail:    string(pvc.Status.Phase),
		})
	}

	hpas, err := clientset.AutoscalingV1().HorizontalPodAutoscalers(metav1.NamespaceAll).List(callCtx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing horizontal pod autoscalers: %w", err)
	}
	for _, hpa := range hpas.Items {
		min := int32(1)
		if hpa.Spec.MinReplicas != nil {
			min = *hpa.Spec.MinReplicas
		}
		workloads = append(workloads, models.WorkloadObject{
			Kind:      "HorizontalPodAutoscaler",
			Namespace: hpa.Namespace,
			Name:      hpa.Name,
			Detail:    fmt.Sprintf("%d-%d replicas, %d current", min, hpa.Spec.MaxReplicas, hpa.Status.CurrentReplicas),
		})
	}

	return workloads, nil
}

// clientsetForCluster builds a client against a cluster's public
// endpoint using the session's bearer token and the cluster CA.
func (gs *GKEService) clientsetForCluster(ctx context.Context, cluster *container.Cluster) (kubernetes.Interface, error) {
	if cluster.Endpoint == "" {
		return nil, fmt.Errorf("cluster %s has no reachable endpoint", cluster.Name)
	}
	if gs.session == nil {
		return nil, fmt.Errorf("cluster %s: no session for control plane auth", cluster.Name)
	}
	token, err := gs.session.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching control plane token: %w", err)
	}

	config := &rest.Config{
		Host:        "https://" + cluster.Endpoint,
		BearerToken: token,
		Timeout:     workloadTimeout,
	}
	if cluster.MasterAuth != nil && cluster.MasterAuth.ClusterCaCertificate != "" {
		caData, err := base64.StdEncoding.DecodeString(cluster.MasterAuth.ClusterCaCertificate)
		if err != nil {
			return nil, fmt.Errorf("decoding cluster CA: %w", err)
		}
		config.TLSClientConfig = rest.TLSClientConfig{CAData: caData}
	}

	return kubernetes.NewForConfig(config)
}

func buildCluster(c *container.Cluster, projectID string) models.GKECluster {
	cluster := models.GKECluster{
		Name:             c.Name,
		ProjectID:        projectID,
		Location:         c.Location,
		Network:          extractName(c.Network),
		Subnet:           extractName(c.Subnetwork),
		Endpoint:         c.Endpoint,
		Version:          c.CurrentMasterVersion,
		Status:           c.Status,
		NodeCount:        c.CurrentNodeCount,
		Labels:           c.ResourceLabels,
		ServicesIPv4CIDR: c.ServicesIpv4Cidr,
	}
	if c.IpAllocationPolicy != nil {
		cluster.PodsIPv4CIDR = c.IpAllocationPolicy.ClusterIpv4CidrBlock
		if cluster.ServicesIPv4CIDR == "" {
			cluster.ServicesIPv4CIDR = c.IpAllocationPolicy.ServicesIpv4CidrBlock
		}
	}
	if cluster.PodsIPv4CIDR == "" {
		cluster.PodsIPv4CIDR = c.ClusterIpv4Cidr
	}
	if c.PrivateClusterConfig != nil {
		cluster.MasterIPv4CIDR = c.PrivateClusterConfig.MasterIpv4CidrBlock
	}
	return cluster
}

func extractName(url string) string {
	if url == "" {
		return ""
	}
	splits := strings.Split(url, "/")
	return splits[len(splits)-1]
}
