package e2e

import (
	"context"
	"fmt"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"k8s.io/kubernetes/test/e2e/framework"

	frameworkutil "github.com/carlory/gcsfuse-conformance/e2e/util/framework"
	"github.com/carlory/gcsfuse-conformance/e2e/util/framework/workload"
)

var _ = frameworkutil.FeatureDescribe("scale-up")("GCS FUSE Scale Up", framework.WithSerial(), framework.WithSlow(), func() {
	f := framework.NewDefaultFramework("gcsfuse-scale-up")
	f.SkipNamespaceCreation = true

	ginkgo.BeforeEach(func(ctx context.Context) {
		verifyClusterReachable(ctx, f.ClientSet)
		frameworkutil.SkipUnlessClusterAutoscalerExists(ctx, f.ClientSet)
	})

	/*
		Testname: GCS FUSE scale up
		Description: Scale the GCS FUSE deployment to maxReplicas. The deployment MUST not report more replicas
		than desired, and exactly maxReplicas pods MUST be Running within scaleUpTimeout. Every running pod MUST
		see a non-empty mount, and the allocatable CPU of the nodes MUST cover the CPU requested in the
		namespace. When node provisioning is expected, the node count MUST grow within nodeProvisionTimeout.
		The original replica count is restored afterwards.
	*/
	frameworkutil.GCSFuseIt("should run every replica with the bucket mounted after scaling up", func(ctx context.Context) {
		cfg := suiteConfig.GCSFuse
		scaling := suiteConfig.Scaling
		selector := suiteConfig.AppSelector()
		initialNodes := verifyClusterReachable(ctx, f.ClientSet)

		initialPods, err := workload.RunningPods(f.ClientSet, cfg.Namespace, selector)(ctx)
		framework.ExpectNoError(err)
		framework.Logf("Initial running pods: %d", initialPods)

		ginkgo.By(fmt.Sprintf("Scaling deployment %s to %d replicas", cfg.DeploymentName, scaling.MaxReplicas))
		fixture := newReplicaFixture(ctx, f.ClientSet)
		framework.ExpectNoError(fixture.ScaleTo(ctx, scaling.MaxReplicas))

		ginkgo.By("Checking the deployment started scaling")
		settle(ctx, suiteConfig.SettleDelay())
		replicas, err := workload.DeploymentReplicas(f.ClientSet, cfg.Namespace, cfg.DeploymentName)(ctx)
		framework.ExpectNoError(err)
		framework.Logf("Deployment replicas: %s", replicas)
		gomega.Expect(replicas.Status).To(gomega.BeNumerically("<=", replicas.Spec), "deployment reports more replicas than desired")

		ginkgo.By(fmt.Sprintf("Waiting for %d running pods", scaling.MaxReplicas))
		policy := suiteConfig.ScaleUpPolicy()
		res, err := workload.WaitForRunningPods(ctx, f.ClientSet, cfg.Namespace, selector, int(scaling.MaxReplicas), policy)
		expectPoll(res, err, "failed to scale up to %d running pods (%s)", scaling.MaxReplicas, policy)

		ginkgo.By("Verifying every pod can access the GCS FUSE mount")
		verifyMountsNonEmpty(ctx, frameworkutil.NewPodExecutor(f, cfg.ContainerName), f.ClientSet)

		ginkgo.By("Verifying the cluster has sufficient capacity for the load")
		capacity, err := workload.ClusterCPU(ctx, f.ClientSet, cfg.Namespace)
		framework.ExpectNoError(err)
		framework.Logf("Cluster CPU: %s", capacity)
		gomega.Expect(capacity.Sufficient()).To(gomega.BeTrue(), "insufficient CPU capacity: %s", capacity)

		if !scaling.ExpectNodeProvisioning {
			framework.Logf("Node provisioning is not expected, keeping %d nodes", initialNodes)
			return
		}
		ginkgo.By("Waiting for the cluster autoscaler to provision nodes")
		policy = suiteConfig.NodeProvisionPolicy()
		nodes, err := workload.WaitForNodeCountAbove(ctx, f.ClientSet, initialNodes, policy)
		expectPoll(nodes, err, "no new nodes were provisioned (%s)", policy)
		framework.Logf("New nodes provisioned: %d", nodes.Observation-initialNodes)
	})
})
