package gkeservice

import (
	"context"
	"testing"

	container "google.golang.org/api/container/v1"
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv1 "k8s.io/api/autoscaling/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/sz9751210/gcp-network-tool/gcp/models"
	"github.com/sz9751210/gcp-network-tool/internal"
)

func TestBuildCluster(t *testing.T) {
	c := &container.Cluster{
		Name:                 "prod-cluster",
		Location:             "asia-east1",
		Network:              "projects/p1/global/networks/prod-vpc",
		Subnetwork:           "projects/p1/regions/asia-east1/subnetworks/gke-subnet",
		Endpoint:             "35.0.0.1",
		CurrentMasterVersion: "1.29.4-gke.1043002",
		Status:               "RUNNING",
		CurrentNodeCount:     6,
		IpAllocationPolicy: &container.IPAllocationPolicy{
			ClusterIpv4CidrBlock:  "10.64.0.0/14",
			ServicesIpv4CidrBlock: "10.96.0.0/20",
		},
		PrivateClusterConfig: &container.PrivateClusterConfig{
			MasterIpv4CidrBlock: "172.16.0.0/28",
		},
	}

	got := buildCluster(c, "p1")

	if got.Network != "prod-vpc" || got.Subnet != "gke-subnet" {
		t.Errorf("net = %s/%s", got.Network, got.Subnet)
	}
	if got.PodsIPv4CIDR != "10.64.0.0/14" {
		t.Errorf("pods cidr = %q", got.PodsIPv4CIDR)
	}
	if got.ServicesIPv4CIDR != "10.96.0.0/20" {
		t.Errorf("services cidr = %q", got.ServicesIPv4CIDR)
	}
	if got.MasterIPv4CIDR != "172.16.0.0/28" {
		t.Errorf("master cidr = %q", got.MasterIPv4CIDR)
	}
	if got.WorkloadsScanned {
		t.Error("workloads flagged scanned before any scan")
	}
}

func TestClusterWorkloadsInventory(t *testing.T) {
	clientset := k8sfake.NewSimpleClientset(
		&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Name: "api", Namespace: "default"},
			Status:     appsv1.DeploymentStatus{Replicas: 3, ReadyReplicas: 3},
		},
		&corev1.Service{
			ObjectMeta: metav1.ObjectMeta{Name: "api-svc", Namespace: "default"},
			Spec:       corev1.ServiceSpec{Type: corev1.ServiceTypeClusterIP, ClusterIP: "10.96.0.10"},
		},
		&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "api-tls", Namespace: "default"},
			Type:       corev1.SecretTypeTLS,
			Data:       map[string][]byte{"tls.key": []byte("private material")},
		},
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "api-7f9c4", Namespace: "default"},
			Status:     corev1.PodStatus{Phase: corev1.PodRunning, PodIP: "10.64.1.7"},
		},
		&networkingv1.Ingress{
			ObjectMeta: metav1.ObjectMeta{Name: "api-ing", Namespace: "default"},
			Spec: networkingv1.IngressSpec{
				Rules: []networkingv1.IngressRule{{Host: "api.example.com"}},
			},
		},
		&corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: "api-config", Namespace: "default"},
			Data:       map[string]string{"LOG_LEVEL": "info"},
		},
		&corev1.PersistentVolumeClaim{
			ObjectMeta: metav1.ObjectMeta{Name: "api-data", Namespace: "default"},
			Status:     corev1.PersistentVolumeClaimStatus{Phase: corev1.ClaimBound},
		},
		&autoscalingv1.HorizontalPodAutoscaler{
			ObjectMeta: metav1.ObjectMeta{Name: "api-hpa", Namespace: "default"},
			Spec:       autoscalingv1.HorizontalPodAutoscalerSpec{MaxReplicas: 10},
		},
	)

	svc := New()
	svc.logger = internal.NewLogger()
	svc.newClientset = func(context.Context, *container.Cluster) (kubernetes.Interface, error) {
		return clientset, nil
	}

	got, err := svc.clusterWorkloads(context.Background(), &container.Cluster{Name: "c1", Endpoint: "x"})
	if err != nil {
		t.Fatalf("clusterWorkloads: %v", err)
	}

	byKind := map[string]int{}
	for _, w := range got {
		byKind[w.Kind]++
		if w.Kind == "Secret" && w.Detail != string(corev1.SecretTypeTLS) {
			t.Errorf("secret detail = %q, want type only", w.Detail)
		}
		if w.Kind == "Ingress" && w.Detail != "api.example.com" {
			t.Errorf("ingress detail = %q", w.Detail)
		}
	}
	for _, kind := range []string{"Deployment", "Service", "Secret", "Pod", "Ingress", "ConfigMap", "PersistentVolumeClaim", "HorizontalPodAutoscaler"} {
		if byKind[kind] != 1 {
			t.Errorf("inventory missing %s: %v", kind, byKind)
		}
	}
}

func TestScanWorkloadsToleratesUnreachableCluster(t *testing.T) {
	svc := New()
	svc.newClientset = func(_ context.Context, c *container.Cluster) (kubernetes.Interface, error) {
		if c.Name == "reachable" {
			return k8sfake.NewSimpleClientset(), nil
		}
		return nil, context.DeadlineExceeded
	}

	raw := []*container.Cluster{
		{Name: "reachable", Endpoint: "a"},
		{Name: "airgapped", Endpoint: "b"},
	}
	clusters := make([]models.GKECluster, len(raw))
	for i, c := range raw {
		clusters[i] = buildCluster(c, "p1")
	}

	svc.scanWorkloads(context.Background(), raw, clusters)

	if !clusters[0].WorkloadsScanned {
		t.Error("reachable cluster not marked scanned")
	}
	if clusters[1].WorkloadsScanned {
		t.Error("unreachable cluster marked scanned")
	}
}
