package csidriver

import (
	"context"
	"testing"

	"github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/fake"
)

func nodePod(name string, labels map[string]string, phase corev1.PodPhase, ready ...bool) *corev1.Pod {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "kube-system", Labels: labels, UID: types.UID(name + "-uid")},
		Status:     corev1.PodStatus{Phase: phase},
	}
	for i, r := range ready {
		pod.Status.ContainerStatuses = append(pod.Status.ContainerStatuses, corev1.ContainerStatus{
			Name:  []string{"gcs-fuse", "csi-driver-registrar", "liveness-probe"}[i],
			Ready: r,
		})
	}
	return pod
}

func TestVerifyNodePodsReady(t *testing.T) {
	tests := []struct {
		name string
		pods []*corev1.Pod
		want []string
	}{
		{
			name: "all ready",
			pods: []*corev1.Pod{
				nodePod("node-a", nil, corev1.PodRunning, true, true),
				nodePod("node-b", nil, corev1.PodRunning, true, true, true),
			},
		},
		{
			name: "pending pod",
			pods: []*corev1.Pod{nodePod("node-a", nil, corev1.PodPending, false)},
			want: []string{"node-a is Pending"},
		},
		{
			name: "container not ready",
			pods: []*corev1.Pod{nodePod("node-a", nil, corev1.PodRunning, true, false)},
			want: []string{"container csi-driver-registrar in CSI driver pod node-a is not ready"},
		},
		{
			name: "no container statuses",
			pods: []*corev1.Pod{nodePod("node-a", nil, corev1.PodRunning)},
			want: []string{"node-a reports no container statuses"},
		},
		{
			name: "every failure reported",
			pods: []*corev1.Pod{
				nodePod("node-a", nil, corev1.PodFailed),
				nodePod("node-b", nil, corev1.PodRunning, false),
			},
			want: []string{"node-a is Failed", "gcs-fuse in CSI driver pod node-b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gomega.NewWithT(t)
			var pods []corev1.Pod
			for _, p := range tt.pods {
				pods = append(pods, *p)
			}
			err := VerifyNodePodsReady(pods)
			if len(tt.want) == 0 {
				g.Expect(err).NotTo(gomega.HaveOccurred())
				return
			}
			g.Expect(err).To(gomega.HaveOccurred())
			for _, want := range tt.want {
				g.Expect(err.Error()).To(gomega.ContainSubstring(want))
			}
		})
	}
}

var nodeSelectors = []string{
	"app.kubernetes.io/name=gcsfusecsi-node",
	"k8s-app=gcs-fuse-csi-driver",
}

func TestListNodePods(t *testing.T) {
	g := gomega.NewWithT(t)
	c := fake.NewClientset(
		nodePod("gke-node", map[string]string{"k8s-app": "gcs-fuse-csi-driver"}, corev1.PodRunning, true),
		nodePod("managed-node", map[string]string{"app.kubernetes.io/name": "gcsfusecsi-node"}, corev1.PodRunning, true),
		nodePod("both-node", map[string]string{"app.kubernetes.io/name": "gcsfusecsi-node", "k8s-app": "gcs-fuse-csi-driver"}, corev1.PodRunning, true),
		nodePod("unrelated", map[string]string{"k8s-app": "kube-dns"}, corev1.PodRunning, true),
	)

	pods, err := ListNodePods(context.Background(), c, "kube-system", nodeSelectors)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(pods).To(gomega.HaveLen(3))
	g.Expect(pods).To(gomega.ContainElement(gomega.HaveField("Name", "gke-node")))
	g.Expect(pods).To(gomega.ContainElement(gomega.HaveField("Name", "managed-node")))
	g.Expect(pods).To(gomega.ContainElement(gomega.HaveField("Name", "both-node")))

	_, err = ListNodePods(context.Background(), c, "gcs-fuse-system", []string{"k8s-app=gcs-fuse-csi-driver"})
	g.Expect(err).To(gomega.MatchError(ErrNoNodePods))

	_, err = ListNodePods(context.Background(), c, "kube-system", nil)
	g.Expect(err).To(gomega.MatchError(ErrNoNodePods))
}

func TestListNodePodsRequiresEverySelector(t *testing.T) {
	g := gomega.NewWithT(t)
	c := fake.NewClientset(
		nodePod("managed-node", map[string]string{"app.kubernetes.io/name": "gcsfusecsi-node"}, corev1.PodRunning, true),
	)

	pods, err := ListNodePods(context.Background(), c, "kube-system", nodeSelectors)
	g.Expect(err).To(gomega.MatchError(ErrNoNodePods))
	g.Expect(err).To(gomega.MatchError(gomega.ContainSubstring(`"k8s-app=gcs-fuse-csi-driver"`)))
	g.Expect(pods).To(gomega.BeEmpty())
}

func TestWaitForCSIDriverRegistered(t *testing.T) {
	g := gomega.NewWithT(t)
	c := fake.NewClientset(&storagev1.CSIDriver{ObjectMeta: metav1.ObjectMeta{Name: DefaultName}})

	g.Expect(WaitForCSIDriverRegistered(context.Background(), c, DefaultName)).To(gomega.Succeed())
}
