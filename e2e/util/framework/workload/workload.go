package workload

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	clientset "k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	"github.com/carlory/gcsfuse-conformance/pkg/poll"
)

// PodCount summarizes the pods matching a selector.
type PodCount struct {
	Total       int
	Running     int
	Terminating int
}

func (c PodCount) String() string {
	return fmt.Sprintf("total=%d running=%d terminating=%d", c.Total, c.Running, c.Terminating)
}

// ReplicaCount holds the desired and observed replicas of a deployment.
type ReplicaCount struct {
	Spec   int32
	Status int32
}

func (c ReplicaCount) String() string {
	return fmt.Sprintf("spec=%d status=%d", c.Spec, c.Status)
}

// IsTerminating reports whether the pod has been marked for deletion.
func IsTerminating(pod corev1.Pod) bool {
	return pod.DeletionTimestamp != nil
}

// IsRunning reports whether the pod is running and not being deleted.
func IsRunning(pod corev1.Pod) bool {
	return pod.Status.Phase == corev1.PodRunning && !IsTerminating(pod)
}

// IsActive reports whether the pod has not reached a terminal phase.
func IsActive(pod corev1.Pod) bool {
	return pod.Status.Phase != corev1.PodSucceeded && pod.Status.Phase != corev1.PodFailed
}

// RunningPodsOf keeps the running pods of the list.
func RunningPodsOf(pods []corev1.Pod) []corev1.Pod {
	return lo.Filter(pods, func(pod corev1.Pod, _ int) bool { return IsRunning(pod) })
}

// ActivePods keeps the pods that did not succeed or fail.
func ActivePods(pods []corev1.Pod) []corev1.Pod {
	return lo.Filter(pods, func(pod corev1.Pod, _ int) bool { return IsActive(pod) })
}

// ListPods returns the pods in namespace ns matching selector.
func ListPods(ctx context.Context, c clientset.Interface, ns, selector string) ([]corev1.Pod, error) {
	pods, err := c.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("listing pods in namespace %s with selector %q: %w", ns, selector, err)
	}
	return pods.Items, nil
}

// ListRunningPods returns the running pods in namespace ns matching selector.
func ListRunningPods(ctx context.Context, c clientset.Interface, ns, selector string) ([]corev1.Pod, error) {
	pods, err := ListPods(ctx, c, ns, selector)
	if err != nil {
		return nil, err
	}
	return RunningPodsOf(pods), nil
}

// RunningPods observes the number of running pods matching selector.
func RunningPods(c clientset.Interface, ns, selector string) func(context.Context) (int, error) {
	return func(ctx context.Context) (int, error) {
		pods, err := ListRunningPods(ctx, c, ns, selector)
		return len(pods), err
	}
}

// PodCounts observes how many pods match selector and in which state they are.
func PodCounts(c clientset.Interface, ns, selector string) func(context.Context) (PodCount, error) {
	return func(ctx context.Context) (PodCount, error) {
		pods, err := ListPods(ctx, c, ns, selector)
		if err != nil {
			return PodCount{}, err
		}
		return PodCount{
			Total:       len(pods),
			Running:     lo.CountBy(pods, IsRunning),
			Terminating: lo.CountBy(pods, IsTerminating),
		}, nil
	}
}

// NodeCount observes the number of nodes in the cluster.
func NodeCount(c clientset.Interface) func(context.Context) (int, error) {
	return func(ctx context.Context) (int, error) {
		nodes, err := c.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
		if err != nil {
			return 0, fmt.Errorf("listing nodes: %w", err)
		}
		return len(nodes.Items), nil
	}
}

// DeploymentReplicas observes the replicas of a deployment.
func DeploymentReplicas(c clientset.Interface, ns, name string) func(context.Context) (ReplicaCount, error) {
	return func(ctx context.Context) (ReplicaCount, error) {
		d, err := c.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return ReplicaCount{}, fmt.Errorf("getting deployment %s/%s: %w", ns, name, err)
		}
		return ReplicaCount{
			Spec:   ptr.Deref(d.Spec.Replicas, 1),
			Status: d.Status.Replicas,
		}, nil
	}
}

// WaitForRunningPods waits until exactly want pods matching selector are running.
func WaitForRunningPods(ctx context.Context, c clientset.Interface, ns, selector string, want int, policy poll.Policy, opts ...poll.Option) (poll.Result[int], error) {
	return poll.Until(ctx, policy, RunningPods(c, ns, selector), func(n int) bool { return n == want }, opts...)
}

// WaitForAtLeastRunningPods waits until at least want pods matching selector are running.
func WaitForAtLeastRunningPods(ctx context.Context, c clientset.Interface, ns, selector string, want int, policy poll.Policy, opts ...poll.Option) (poll.Result[int], error) {
	return poll.Until(ctx, policy, RunningPods(c, ns, selector), func(n int) bool { return n >= want }, opts...)
}

// WaitForPodTermination waits until the pods matching selector start going
// away compared with initial: fewer pods remain, or more are terminating.
func WaitForPodTermination(ctx context.Context, c clientset.Interface, ns, selector string, initial PodCount, policy poll.Policy, opts ...poll.Option) (poll.Result[PodCount], error) {
	return poll.Until(ctx, policy, PodCounts(c, ns, selector), func(pc PodCount) bool {
		return pc.Total < initial.Total || pc.Terminating > initial.Terminating
	}, opts...)
}

// WaitForNodeCountAbove waits until the cluster has more than initial nodes.
func WaitForNodeCountAbove(ctx context.Context, c clientset.Interface, initial int, policy poll.Policy, opts ...poll.Option) (poll.Result[int], error) {
	return poll.Until(ctx, policy, NodeCount(c), func(n int) bool { return n > initial }, opts...)
}

// WaitForNodeCountBelow waits until the cluster has fewer than initial nodes.
func WaitForNodeCountBelow(ctx context.Context, c clientset.Interface, initial int, policy poll.Policy, opts ...poll.Option) (poll.Result[int], error) {
	return poll.Until(ctx, policy, NodeCount(c), func(n int) bool { return n < initial }, opts...)
}

// ScaleDeployment sets spec.replicas of a deployment.
func ScaleDeployment(ctx context.Context, c clientset.Interface, ns, name string, replicas int32) error {
	patch, err := json.Marshal(map[string]any{
		"spec": map[string]any{
			"replicas": replicas,
		},
	})
	if err != nil {
		return fmt.Errorf("marshaling replicas patch: %w", err)
	}
	_, err = c.AppsV1().Deployments(ns).Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("scaling deployment %s/%s to %d replicas: %w", ns, name, replicas, err)
	}
	return nil
}
