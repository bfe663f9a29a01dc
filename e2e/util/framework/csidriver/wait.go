package csidriver

import (
	"context"
	"errors"
	"fmt"

	"github.com/onsi/gomega"
	"github.com/samber/lo"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	clientset "k8s.io/client-go/kubernetes"

	"k8s.io/kubernetes/test/e2e/framework"
)

// DefaultName is the name the GCS FUSE CSI driver registers under.
const DefaultName = "gcsfuse.csi.storage.gke.io"

// WaitForCSIDriverRegistered waits for the CSIDriver object to exist with its name.
func WaitForCSIDriverRegistered(ctx context.Context, client clientset.Interface, name string) error {
	return framework.Gomega().Eventually(ctx, framework.GetObject(client.StorageV1().CSIDrivers().Get, name, metav1.GetOptions{})).
		WithPolling(framework.Poll).
		WithTimeout(framework.PollShortTimeout).
		Should(gomega.HaveField("ObjectMeta.Name", gomega.Equal(name)))
}

// ErrNoNodePods is returned when a selector matched no driver pod.
var ErrNoNodePods = errors.New("no CSI driver node pods found")

// ListNodePods collects the driver pods in namespace ns. Every selector must
// match at least one pod. Pods matched by several selectors are returned once.
func ListNodePods(ctx context.Context, client clientset.Interface, ns string, selectors []string) ([]corev1.Pod, error) {
	var pods []corev1.Pod
	for _, selector := range selectors {
		list, err := client.CoreV1().Pods(ns).List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return nil, fmt.Errorf("listing CSI driver pods in namespace %s with selector %q: %w", ns, selector, err)
		}
		framework.Logf("Found %d CSI driver pods with selector %q", len(list.Items), selector)
		if len(list.Items) == 0 {
			return nil, fmt.Errorf("%w in namespace %s with selector %q", ErrNoNodePods, ns, selector)
		}
		pods = append(pods, list.Items...)
	}
	if len(pods) == 0 {
		return nil, fmt.Errorf("%w in namespace %s: no selectors given", ErrNoNodePods, ns)
	}
	return lo.UniqBy(pods, func(pod corev1.Pod) types.UID { return pod.UID }), nil
}

// VerifyNodePodsReady checks that every pod is running and all its containers are ready.
func VerifyNodePodsReady(pods []corev1.Pod) error {
	var errs []error
	for _, pod := range pods {
		if pod.Status.Phase != corev1.PodRunning {
			errs = append(errs, fmt.Errorf("CSI driver pod %s is %s, not Running", pod.Name, pod.Status.Phase))
			continue
		}
		if len(pod.Status.ContainerStatuses) == 0 {
			errs = append(errs, fmt.Errorf("CSI driver pod %s reports no container statuses", pod.Name))
			continue
		}
		for _, status := range pod.Status.ContainerStatuses {
			if !status.Ready {
				errs = append(errs, fmt.Errorf("container %s in CSI driver pod %s is not ready", status.Name, pod.Name))
			}
		}
	}
	return utilerrors.NewAggregate(errs)
}
