package framework

import (
	"bytes"
	"context"
	"fmt"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega/format"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/cli-runtime/pkg/resource"
	clientset "k8s.io/client-go/kubernetes"
	admissionapi "k8s.io/pod-security-admission/api"

	"k8s.io/kubernetes/test/e2e/framework"
	e2ekubectl "k8s.io/kubernetes/test/e2e/framework/kubectl"
)

// WorkloadSource locates manifests or a helm chart for the workload that
// mounts the bucket. An empty source means the workload is already deployed.
type WorkloadSource struct {
	Filename    string `default:"" usage:"filename, directory, or URL to files to use to install the GCS FUSE workload"`
	Chart       string `default:"" usage:"chart name where to locate the GCS FUSE workload chart"`
	Repo        string `default:"" usage:"chart repository url where to locate the requested chart"`
	ReleaseName string `default:"" usage:"release name to create with this request. If unspecified, a random release name will be used"`
}

// Enabled reports whether the suite has to install the workload itself.
func (s WorkloadSource) Enabled() bool {
	return s.Filename != "" || s.Chart != ""
}

// LoadWorkload renders the source and parses every object it contains.
func LoadWorkload(ctx context.Context, getter resource.RESTClientGetter, src WorkloadSource, namespace string) ([]*resource.Info, error) {
	// Create a builder
	builder := resource.NewBuilder(getter).
		Unstructured().
		// Accumulate as many items as possible
		ContinueOnError().
		// The namespace might not be populated to the generated manifests, so we need to set it manually.
		NamespaceParam(namespace).DefaultNamespace().
		// Flatten items contained in List objects
		Flatten()

	if src.Chart != "" {
		manifests, err := RunHelm(ctx, namespace, helmChartArgs(src, "template")...)
		if err != nil {
			return nil, fmt.Errorf("rendering chart %s: %w", src.Chart, err)
		}
		builder = builder.Stream(bytes.NewBufferString(manifests), src.Chart)
	}
	if src.Filename != "" {
		builder = builder.FilenameParam(false, &resource.FilenameOptions{Filenames: []string{src.Filename}})
	}

	infos, err := builder.Do().Infos()
	if err != nil {
		return nil, fmt.Errorf("parsing workload manifests: %w", err)
	}
	return infos, nil
}

// FindDeployment returns the deployment called name among infos.
func FindDeployment(infos []*resource.Info, name string) (*appsv1.Deployment, error) {
	for _, info := range infos {
		if info.Mapping == nil || info.Mapping.Resource != appsv1.SchemeGroupVersion.WithResource("deployments") {
			continue
		}
		obj, err := runtime.DefaultUnstructuredConverter.ToUnstructured(info.Object)
		if err != nil {
			return nil, fmt.Errorf("error when converting object to unstructured: \n%s", format.Object(info.Object, 1))
		}
		deployment := &appsv1.Deployment{}
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj, deployment); err != nil {
			return nil, fmt.Errorf("error when converting unstructured to %T: \n%s", deployment, format.Object(obj, 1))
		}
		if deployment.Name == name {
			return deployment, nil
		}
	}
	return nil, fmt.Errorf("no deployment named %s found in %d objects", name, len(infos))
}

// EnsureNamespace creates namespace with the given pod security level unless
// it already exists. It reports whether the namespace was created. Existing
// namespaces are left untouched.
func EnsureNamespace(ctx context.Context, c clientset.Interface, namespace string, level admissionapi.Level) (bool, error) {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: namespace,
			Labels: map[string]string{
				admissionapi.EnforceLevelLabel: string(level),
				admissionapi.WarnLevelLabel:    string(level),
				admissionapi.AuditLevelLabel:   string(level),
			},
		},
	}
	_, err := c.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("creating namespace %s: %w", namespace, err)
	}
	return true, nil
}

// InstallWorkload installs the workload into namespace and registers its
// removal with ginkgo.DeferCleanup.
func InstallWorkload(ctx context.Context, src WorkloadSource, namespace string) {
	if src.Filename != "" {
		_, err := e2ekubectl.RunKubectl(namespace, "apply", "-f", src.Filename)
		ginkgo.DeferCleanup(e2ekubectl.RunKubectl, namespace, "delete", "-f", src.Filename, "--ignore-not-found")
		framework.ExpectNoError(err, "error when applying workload from filename %s", src.Filename)
	}
	if src.Chart != "" {
		_, err := RunHelm(ctx, namespace, append(helmChartArgs(src, "install"), "--create-namespace", "--wait", "--timeout", "15m")...)
		ginkgo.DeferCleanup(RunHelm, namespace, "uninstall", src.ReleaseName, "--ignore-not-found")
		framework.ExpectNoError(err, "error when installing workload from chart %s with release name %s", src.Chart, src.ReleaseName)
	}
}

func helmChartArgs(src WorkloadSource, verb string) []string {
	args := []string{verb, src.ReleaseName, src.Chart}
	if src.Repo != "" {
		args = append(args, "--repo", src.Repo)
	}
	return args
}
