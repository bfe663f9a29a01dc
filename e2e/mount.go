package e2e

import (
	"context"

	"github.com/onsi/ginkgo/v2"
	"k8s.io/kubernetes/test/e2e/framework"

	frameworkutil "github.com/carlory/gcsfuse-conformance/e2e/util/framework"
	"github.com/carlory/gcsfuse-conformance/e2e/util/framework/mount"
)

var _ = frameworkutil.FeatureDescribe("mount")("GCS FUSE Mount", func() {
	f := framework.NewDefaultFramework("gcsfuse-mount")
	f.SkipNamespaceCreation = true

	/*
		Testname: GCS FUSE mount
		Description: The GCS FUSE deployment MUST exist. A pod of it MUST be Running within retryCount x
		retryInterval. Listing the mount path inside that pod MUST succeed.
	*/
	frameworkutil.GCSFuseIt("should make the bucket accessible at the mount path", func(ctx context.Context) {
		verifyDeploymentExists(ctx, f.ClientSet)

		ginkgo.By("Waiting for a running pod of deployment " + suiteConfig.GCSFuse.DeploymentName)
		pod := waitForRunningPod(ctx, f.ClientSet)

		ginkgo.By("Listing the mount path " + suiteConfig.GCSFuse.MountPath)
		ex := frameworkutil.NewPodExecutor(f, suiteConfig.GCSFuse.ContainerName)
		out, err := mount.VerifyListable(ctx, ex, pod, suiteConfig.GCSFuse.MountPath)
		framework.ExpectNoError(err, "GCS FUSE mount %s is not accessible in pod %s", suiteConfig.GCSFuse.MountPath, pod.Name)
		framework.Logf("Contents of %s in pod %s:\n%s", suiteConfig.GCSFuse.MountPath, pod.Name, out)
	})
})
