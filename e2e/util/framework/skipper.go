package framework

import (
	"context"
	"maps"
	"slices"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clientset "k8s.io/client-go/kubernetes"

	"k8s.io/kubernetes/test/e2e/framework"
	e2eskipper "k8s.io/kubernetes/test/e2e/framework/skipper"
)

// SkipUnlessClusterAutoscalerExists skips the test if no supported cluster autoscaler has been installed.
func SkipUnlessClusterAutoscalerExists(ctx context.Context, client clientset.Interface) {
	if name, ok := DetectClusterAutoscaler(ctx, client); ok {
		framework.Logf("cluster autoscaler detected: %s", name)
		return
	}
	e2eskipper.Skipf("no cluster autoscaler has been installed: %v", slices.Sorted(maps.Keys(clusterAutoscalers(ctx, client))))
}

// DetectClusterAutoscaler returns the first supported cluster autoscaler found in the cluster.
func DetectClusterAutoscaler(ctx context.Context, client clientset.Interface) (string, bool) {
	autoscalers := clusterAutoscalers(ctx, client)
	for _, name := range slices.Sorted(maps.Keys(autoscalers)) {
		if autoscalers[name]() {
			return name, true
		}
	}
	return "", false
}

func clusterAutoscalers(ctx context.Context, client clientset.Interface) map[string]func() bool {
	return map[string]func() bool{
		// Check if Cloud Autoscaler is enabled by trying to get its ConfigMap.
		// GKE publishes it for the managed autoscaler as well.
		"k8s.io/autoscaler/cluster-autoscaler": func() bool {
			_, err := client.CoreV1().ConfigMaps("kube-system").Get(ctx, "cluster-autoscaler-status", metav1.GetOptions{})
			return err == nil
		},
		// Check if Karpenter is enabled by trying to get its API resources.
		"sigs.k8s.io/karpenter": func() bool {
			_, err := client.Discovery().ServerResourcesForGroupVersion("karpenter.sh/v1")
			return err == nil
		},
	}
}
