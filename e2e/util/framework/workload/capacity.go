package workload

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clientset "k8s.io/client-go/kubernetes"
	resourcehelper "k8s.io/component-helpers/resource"
)

// CPUCapacity compares the CPU the nodes offer with the CPU a namespace asks for.
type CPUCapacity struct {
	Allocatable resource.Quantity
	Requested   resource.Quantity
}

// Sufficient reports whether the requested CPU fits into the allocatable CPU.
func (c CPUCapacity) Sufficient() bool {
	return c.Allocatable.Cmp(c.Requested) >= 0
}

func (c CPUCapacity) String() string {
	return fmt.Sprintf("allocatable=%dm requested=%dm", c.Allocatable.MilliValue(), c.Requested.MilliValue())
}

// ClusterCPU sums the allocatable CPU of every node and the CPU requests of
// the active pods in namespace ns.
func ClusterCPU(ctx context.Context, c clientset.Interface, ns string) (CPUCapacity, error) {
	nodes, err := c.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return CPUCapacity{}, fmt.Errorf("listing nodes: %w", err)
	}
	pods, err := c.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return CPUCapacity{}, fmt.Errorf("listing pods in namespace %s: %w", ns, err)
	}

	allocatable := lo.SumBy(nodes.Items, func(node corev1.Node) int64 {
		return node.Status.Allocatable.Cpu().MilliValue()
	})
	requested := lo.SumBy(ActivePods(pods.Items), func(pod corev1.Pod) int64 {
		reqs := resourcehelper.PodRequests(&pod, resourcehelper.PodResourcesOptions{})
		return reqs.Cpu().MilliValue()
	})
	return CPUCapacity{
		Allocatable: *resource.NewMilliQuantity(allocatable, resource.DecimalSI),
		Requested:   *resource.NewMilliQuantity(requested, resource.DecimalSI),
	}, nil
}
