package e2e

import (
	"context"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	clientset "k8s.io/client-go/kubernetes"

	"k8s.io/kubernetes/test/e2e/framework"
	e2econfig "k8s.io/kubernetes/test/e2e/framework/config"

	frameworkutil "github.com/carlory/gcsfuse-conformance/e2e/util/framework"
	"github.com/carlory/gcsfuse-conformance/e2e/util/framework/mount"
	"github.com/carlory/gcsfuse-conformance/e2e/util/framework/workload"
	"github.com/carlory/gcsfuse-conformance/pkg/config"
	"github.com/carlory/gcsfuse-conformance/pkg/poll"
)

var gcsFuse struct {
	Config string `default:"" usage:"path to the GCS FUSE suite configuration file. If unspecified, the GCSFUSE_E2E_CONFIG env variable or the built-in defaults are used"`
}

var _ = e2econfig.AddOptions(&gcsFuse, "gcsfuse")

var workloadSource frameworkutil.WorkloadSource

var _ = e2econfig.AddOptions(&workloadSource, "gcsfuse.workload")

// suiteConfig is loaded once before any spec runs.
var suiteConfig *config.Config

// expectPoll fails the spec unless the poll was satisfied.
func expectPoll[T any](res poll.Result[T], err error, explain ...any) T {
	framework.Logf("Poll ended %s after %d attempts in %v, last observation: %v", res.Outcome, res.Attempts, res.Elapsed, res.Observation)
	framework.ExpectNoError(err, explain...)
	return res.Observation
}

// verifyClusterReachable returns the current number of nodes.
func verifyClusterReachable(ctx context.Context, client clientset.Interface) int {
	nodes, err := client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	framework.ExpectNoError(err, "Failed to get node list")
	gomega.Expect(nodes.Items).ToNot(gomega.BeEmpty(), "no nodes found in the cluster")
	framework.Logf("Kubernetes cluster is reachable, found %d nodes", len(nodes.Items))
	return len(nodes.Items)
}

func verifyDeploymentExists(ctx context.Context, client clientset.Interface) {
	ns, name := suiteConfig.GCSFuse.Namespace, suiteConfig.GCSFuse.DeploymentName
	ginkgo.By("Checking deployment " + name + " exists in namespace " + ns)
	_, err := client.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
	framework.ExpectNoError(err, "deployment %s does not exist in namespace %s", name, ns)
}

// waitForRunningPod waits for the workload to have a running pod and returns one.
func waitForRunningPod(ctx context.Context, client clientset.Interface) *corev1.Pod {
	cfg := suiteConfig.GCSFuse
	policy := suiteConfig.PodStartPolicy()
	res, err := workload.WaitForAtLeastRunningPods(ctx, client, cfg.Namespace, suiteConfig.AppSelector(), 1, policy)
	expectPoll(res, err, "no running pod with label %s in namespace %s (%s)", suiteConfig.AppSelector(), cfg.Namespace, policy)

	pods, err := workload.ListRunningPods(ctx, client, cfg.Namespace, suiteConfig.AppSelector())
	framework.ExpectNoError(err)
	gomega.Expect(pods).ToNot(gomega.BeEmpty(), "running pods with label %s disappeared", suiteConfig.AppSelector())
	framework.Logf("Using pod %s", pods[0].Name)
	return &pods[0]
}

// newReplicaFixture captures the replicas of the workload deployment and
// restores them, waiting for the pods to settle, when the spec ends.
func newReplicaFixture(ctx context.Context, client clientset.Interface) *workload.ReplicaFixture {
	cfg := suiteConfig.GCSFuse
	fixture, err := workload.NewReplicaFixture(ctx, client, cfg.Namespace, cfg.DeploymentName, suiteConfig.AppSelector(), suiteConfig.ScaleDownPolicy())
	framework.ExpectNoError(err)
	ginkgo.DeferCleanup(fixture.Restore)
	return fixture
}

// testFile returns the path of name under the mount. With unique file names
// configured the name gets a random suffix and the file is removed after the spec.
func testFile(ex mount.Executor, pod *corev1.Pod, name string) string {
	if !suiteConfig.Test.UniqueFilenames {
		return suiteConfig.MountFile(name)
	}
	file := suiteConfig.MountFile(mount.UniqueName(name))
	ginkgo.DeferCleanup(func(ctx context.Context) {
		if err := mount.RemoveFile(ctx, ex, pod, file); err != nil {
			framework.Logf("failed to remove %s: %v", file, err)
		}
	})
	return file
}

// verifyMountsNonEmpty checks the mount of every running pod of the workload.
func verifyMountsNonEmpty(ctx context.Context, ex mount.Executor, client clientset.Interface) {
	pods, err := workload.ListRunningPods(ctx, client, suiteConfig.GCSFuse.Namespace, suiteConfig.AppSelector())
	framework.ExpectNoError(err)
	var errs []error
	for i := range pods {
		if err := mount.VerifyNonEmpty(ctx, ex, &pods[i], suiteConfig.GCSFuse.MountPath); err != nil {
			errs = append(errs, err)
			continue
		}
		framework.Logf("Pod %s can access the GCS FUSE mount", pods[i].Name)
	}
	framework.ExpectNoError(utilerrors.NewAggregate(errs), "mount %s is not accessible in every pod", suiteConfig.GCSFuse.MountPath)
}

// settle waits d unless the spec is interrupted first.
func settle(ctx context.Context, d time.Duration) {
	framework.Logf("Waiting %v for the change to settle", d)
	select {
	case <-ctx.Done():
		framework.Failf("interrupted while waiting: %v", ctx.Err())
	case <-time.After(d):
	}
}
