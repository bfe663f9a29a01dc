package e2e

import (
	"context"
	"fmt"

	"github.com/onsi/ginkgo/v2"
	"k8s.io/kubernetes/test/e2e/framework"
	e2eskipper "k8s.io/kubernetes/test/e2e/framework/skipper"

	frameworkutil "github.com/carlory/gcsfuse-conformance/e2e/util/framework"
	"github.com/carlory/gcsfuse-conformance/e2e/util/framework/workload"
)

var _ = frameworkutil.FeatureDescribe("scale-down")("GCS FUSE Scale Down", framework.WithSerial(), framework.WithSlow(), func() {
	f := framework.NewDefaultFramework("gcsfuse-scale-down")
	f.SkipNamespaceCreation = true

	ginkgo.BeforeEach(func(ctx context.Context) {
		verifyClusterReachable(ctx, f.ClientSet)
		frameworkutil.SkipUnlessClusterAutoscalerExists(ctx, f.ClientSet)
	})

	/*
		Testname: GCS FUSE scale down
		Description: Bring the GCS FUSE deployment to maxReplicas, then scale it to minReplicas. Excess pods MUST
		start terminating within terminationRetries x interval, the node count MUST drop and exactly minReplicas
		pods MUST be Running within scaleDownTimeout. Every remaining pod MUST see a non-empty mount. The
		original replica count is restored afterwards.
	*/
	frameworkutil.GCSFuseIt("should keep the bucket mounted in the remaining pods after scaling down", func(ctx context.Context) {
		cfg := suiteConfig.GCSFuse
		scaling := suiteConfig.Scaling
		selector := suiteConfig.AppSelector()

		ginkgo.By(fmt.Sprintf("Bringing deployment %s to %d replicas", cfg.DeploymentName, scaling.MaxReplicas))
		fixture := newReplicaFixture(ctx, f.ClientSet)
		if fixture.Original() == scaling.MinReplicas {
			e2eskipper.Skipf("deployment %s is already at the minimum of %d replicas", cfg.DeploymentName, scaling.MinReplicas)
		}
		if fixture.Original() < scaling.MaxReplicas {
			framework.ExpectNoError(fixture.ScaleTo(ctx, scaling.MaxReplicas))
			policy := suiteConfig.ScaleUpPolicy()
			res, err := workload.WaitForRunningPods(ctx, f.ClientSet, cfg.Namespace, selector, int(scaling.MaxReplicas), policy)
			expectPoll(res, err, "failed to scale up to %d running pods (%s)", scaling.MaxReplicas, policy)
		}

		initial, err := workload.PodCounts(f.ClientSet, cfg.Namespace, selector)(ctx)
		framework.ExpectNoError(err)
		framework.Logf("Initial pods: %s", initial)

		ginkgo.By(fmt.Sprintf("Scaling deployment %s down to %d replicas", cfg.DeploymentName, scaling.MinReplicas))
		framework.ExpectNoError(fixture.ScaleTo(ctx, scaling.MinReplicas))

		ginkgo.By("Verifying excess pods are terminating")
		policy := suiteConfig.TerminationPolicy()
		terminating, err := workload.WaitForPodTermination(ctx, f.ClientSet, cfg.Namespace, selector, initial, policy)
		expectPoll(terminating, err, "pods are not being terminated (%s)", policy)

		ginkgo.By("Waiting for the cluster autoscaler to remove unused nodes")
		initialNodes := verifyClusterReachable(ctx, f.ClientSet)
		policy = suiteConfig.ScaleDownPolicy()
		nodes, err := workload.WaitForNodeCountBelow(ctx, f.ClientSet, initialNodes, policy)
		expectPoll(nodes, err, "nodes were not removed (%s)", policy)
		framework.Logf("Nodes reduced from %d to %d", initialNodes, nodes.Observation)

		ginkgo.By(fmt.Sprintf("Waiting for %d running pods", scaling.MinReplicas))
		res, err := workload.WaitForRunningPods(ctx, f.ClientSet, cfg.Namespace, selector, int(scaling.MinReplicas), policy)
		expectPoll(res, err, "failed to scale down to %d running pods (%s)", scaling.MinReplicas, policy)

		ginkgo.By("Verifying the remaining pods can access the GCS FUSE mount")
		verifyMountsNonEmpty(ctx, frameworkutil.NewPodExecutor(f, cfg.ContainerName), f.ClientSet)
	})
})
