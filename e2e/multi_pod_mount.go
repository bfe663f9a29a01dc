package e2e

import (
	"context"
	"fmt"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/kubernetes/test/e2e/framework"

	frameworkutil "github.com/carlory/gcsfuse-conformance/e2e/util/framework"
	"github.com/carlory/gcsfuse-conformance/e2e/util/framework/mount"
	"github.com/carlory/gcsfuse-conformance/e2e/util/framework/workload"
)

var _ = frameworkutil.FeatureDescribe("multi-pod-mount")("GCS FUSE Multi-Pod Mount", framework.WithSerial(), func() {
	f := framework.NewDefaultFramework("gcsfuse-multi-pod")
	f.SkipNamespaceCreation = true

	/*
		Testname: GCS FUSE multi-pod mount
		Description: Scale the GCS FUSE deployment to at least the configured replicas. At least that many pods
		MUST be Running. Content written to the mount by the first pod MUST be read back unchanged by every
		other pod. The original replica count is restored afterwards.
	*/
	frameworkutil.GCSFuseIt("should share the mounted content between pods", func(ctx context.Context) {
		cfg := suiteConfig.GCSFuse
		selector := suiteConfig.AppSelector()

		ginkgo.By(fmt.Sprintf("Ensuring the deployment has at least %d replicas", cfg.Replicas))
		fixture := newReplicaFixture(ctx, f.ClientSet)
		scaled, err := fixture.EnsureAtLeast(ctx, cfg.Replicas)
		framework.ExpectNoError(err)
		if scaled {
			framework.Logf("Scaled deployment %s from %d to %d replicas", cfg.DeploymentName, fixture.Original(), fixture.Current())
		}

		ginkgo.By("Waiting for the pods to be running")
		policy := suiteConfig.ScaleUpPolicy()
		res, err := workload.WaitForAtLeastRunningPods(ctx, f.ClientSet, cfg.Namespace, selector, int(cfg.Replicas), policy)
		expectPoll(res, err, "fewer than %d pods with label %s are running (%s)", cfg.Replicas, selector, policy)

		pods, err := workload.ListRunningPods(ctx, f.ClientSet, cfg.Namespace, selector)
		framework.ExpectNoError(err)
		gomega.Expect(len(pods)).To(gomega.BeNumerically(">=", 2), "at least 2 running pods are required")
		framework.Logf("Found %d running pods", len(pods))

		ginkgo.By("Writing from the first pod and reading from every other pod")
		ex := frameworkutil.NewPodExecutor(f, cfg.ContainerName)
		writer := &pods[0]
		readers := make([]*corev1.Pod, 0, len(pods)-1)
		for i := 1; i < len(pods); i++ {
			readers = append(readers, &pods[i])
		}
		file := testFile(ex, writer, suiteConfig.Test.MultiPodTestFilename)
		err = mount.RoundTrip(ctx, ex, writer, readers, file, suiteConfig.Test.MultiPodTestContent)
		framework.ExpectNoError(err, "pods do not see the same content in %s", file)
	})
})
