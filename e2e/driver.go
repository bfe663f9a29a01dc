package e2e

import (
	"context"

	"github.com/onsi/ginkgo/v2"
	"k8s.io/kubernetes/test/e2e/framework"

	frameworkutil "github.com/carlory/gcsfuse-conformance/e2e/util/framework"
	"github.com/carlory/gcsfuse-conformance/e2e/util/framework/csidriver"
)

var _ = frameworkutil.FeatureDescribe("driver")("GCS FUSE CSI Driver", func() {
	f := framework.NewDefaultFramework("gcsfuse-driver")
	f.SkipNamespaceCreation = true

	/*
		Testname: GCS FUSE CSI driver verification
		Description: The cluster MUST be reachable with at least one node. The GCS FUSE CSIDriver object MUST be
		registered. Every CSI driver node pod matching the configured selectors MUST be Running with all of its
		containers ready.
	*/
	frameworkutil.GCSFuseIt("should run the CSI driver on the nodes", func(ctx context.Context) {
		cfg := suiteConfig.Driver

		ginkgo.By("Verifying the cluster is reachable")
		verifyClusterReachable(ctx, f.ClientSet)

		ginkgo.By("Waiting for the CSIDriver " + cfg.CSIDriverName + " to be registered")
		err := csidriver.WaitForCSIDriverRegistered(ctx, f.ClientSet, cfg.CSIDriverName)
		framework.ExpectNoError(err, "CSIDriver %s is not registered", cfg.CSIDriverName)

		ginkgo.By("Checking the CSI driver node pods are ready")
		pods, err := csidriver.ListNodePods(ctx, f.ClientSet, cfg.Namespace, cfg.NodeLabelSelectors)
		framework.ExpectNoError(err)
		framework.ExpectNoError(csidriver.VerifyNodePodsReady(pods))
		framework.Logf("All %d CSI driver node pods are ready", len(pods))
	})
})
