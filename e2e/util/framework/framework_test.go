package framework

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/cli-runtime/pkg/resource"
	fakediscovery "k8s.io/client-go/discovery/fake"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	admissionapi "k8s.io/pod-security-admission/api"
)

func unstructuredInfo(resourceName, kind, name string) *resource.Info {
	obj := &unstructured.Unstructured{}
	obj.SetAPIVersion("apps/v1")
	obj.SetKind(kind)
	obj.SetName(name)
	return &resource.Info{
		Name:    name,
		Object:  obj,
		Mapping: &meta.RESTMapping{Resource: appsv1.SchemeGroupVersion.WithResource(resourceName)},
	}
}

func TestFindDeployment(t *testing.T) {
	g := gomega.NewWithT(t)
	infos := []*resource.Info{
		unstructuredInfo("statefulsets", "StatefulSet", "gcs-fuse"),
		unstructuredInfo("deployments", "Deployment", "sidecar"),
		unstructuredInfo("deployments", "Deployment", "gcs-fuse"),
	}

	d, err := FindDeployment(infos, "gcs-fuse")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(d.Name).To(gomega.Equal("gcs-fuse"))

	_, err = FindDeployment(infos, "missing")
	g.Expect(err).To(gomega.MatchError(gomega.ContainSubstring("no deployment named missing")))
}

func TestWorkloadSource(t *testing.T) {
	g := gomega.NewWithT(t)
	g.Expect(WorkloadSource{}.Enabled()).To(gomega.BeFalse())
	g.Expect(WorkloadSource{Filename: "deploy.yaml"}.Enabled()).To(gomega.BeTrue())

	src := WorkloadSource{Chart: "gcs-fuse-app", ReleaseName: "e2e"}
	g.Expect(helmChartArgs(src, "template")).To(gomega.Equal([]string{"template", "e2e", "gcs-fuse-app"}))
	src.Repo = "https://charts.example.com"
	g.Expect(helmChartArgs(src, "install")).To(gomega.Equal([]string{"install", "e2e", "gcs-fuse-app", "--repo", "https://charts.example.com"}))
}

func TestEnsureNamespace(t *testing.T) {
	g := gomega.NewWithT(t)
	ctx := context.Background()
	existing := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "default"}}
	c := fake.NewClientset(existing)

	created, err := EnsureNamespace(ctx, c, "default", admissionapi.LevelBaseline)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(created).To(gomega.BeFalse())
	ns, err := c.CoreV1().Namespaces().Get(ctx, "default", metav1.GetOptions{})
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(ns.Labels).To(gomega.BeEmpty())

	created, err = EnsureNamespace(ctx, c, "gcsfuse-e2e", admissionapi.LevelBaseline)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(created).To(gomega.BeTrue())
	ns, err = c.CoreV1().Namespaces().Get(ctx, "gcsfuse-e2e", metav1.GetOptions{})
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(ns.Labels).To(gomega.HaveKeyWithValue(admissionapi.EnforceLevelLabel, "baseline"))
	g.Expect(ns.Labels).To(gomega.HaveKeyWithValue(admissionapi.WarnLevelLabel, "baseline"))
}

func TestDetectClusterAutoscaler(t *testing.T) {
	tests := []struct {
		name      string
		objects   []*corev1.ConfigMap
		resources []*metav1.APIResourceList
		want      string
		wantFound bool
	}{
		{name: "none"},
		{
			name:      "cluster autoscaler status",
			objects:   []*corev1.ConfigMap{{ObjectMeta: metav1.ObjectMeta{Name: "cluster-autoscaler-status", Namespace: "kube-system"}}},
			want:      "k8s.io/autoscaler/cluster-autoscaler",
			wantFound: true,
		},
		{
			name:      "karpenter",
			resources: []*metav1.APIResourceList{{GroupVersion: "karpenter.sh/v1", APIResources: []metav1.APIResource{{Name: "nodepools"}}}},
			want:      "sigs.k8s.io/karpenter",
			wantFound: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gomega.NewWithT(t)
			c := fake.NewClientset()
			for _, cm := range tt.objects {
				_, err := c.CoreV1().ConfigMaps(cm.Namespace).Create(context.Background(), cm, metav1.CreateOptions{})
				g.Expect(err).NotTo(gomega.HaveOccurred())
			}
			c.Discovery().(*fakediscovery.FakeDiscovery).Resources = tt.resources

			name, found := DetectClusterAutoscaler(context.Background(), c)
			g.Expect(found).To(gomega.Equal(tt.wantFound))
			g.Expect(name).To(gomega.Equal(tt.want))
		})
	}
}

func TestWriteKubeconfig(t *testing.T) {
	g := gomega.NewWithT(t)
	path := filepath.Join(t.TempDir(), "kubeconfig")

	err := WriteKubeconfig(&rest.Config{
		Host:            "https://10.0.0.1:443",
		BearerTokenFile: "/var/run/secrets/kubernetes.io/serviceaccount/token",
		TLSClientConfig: rest.TLSClientConfig{CAFile: "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"},
	}, path)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	loaded, err := clientcmd.LoadFromFile(path)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(loaded.CurrentContext).To(gomega.Equal("in-cluster"))
	g.Expect(loaded.Clusters).To(gomega.HaveKeyWithValue("in-cluster", gomega.HaveField("Server", "https://10.0.0.1:443")))
	g.Expect(loaded.AuthInfos).To(gomega.HaveKeyWithValue("sa-user", gomega.HaveField("TokenFile", "/var/run/secrets/kubernetes.io/serviceaccount/token")))
}
