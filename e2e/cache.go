package e2e

import (
	"context"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"k8s.io/kubernetes/test/e2e/framework"

	frameworkutil "github.com/carlory/gcsfuse-conformance/e2e/util/framework"
	"github.com/carlory/gcsfuse-conformance/e2e/util/framework/mount"
)

var _ = frameworkutil.FeatureDescribe("cache")("GCS FUSE Cache", func() {
	f := framework.NewDefaultFramework("gcsfuse-cache")
	f.SkipNamespaceCreation = true

	/*
		Testname: GCS FUSE file cache
		Description: The sample data file MUST exist under the mount path and hold at least minSampleDataBytes.
		Read it twice after syncing; the second read MUST be faster than the first. A third read MUST return a
		positive number of bytes.
	*/
	frameworkutil.GCSFuseIt("should serve repeated reads faster from the cache", func(ctx context.Context) {
		pod := waitForRunningPod(ctx, f.ClientSet)
		ex := frameworkutil.NewPodExecutor(f, suiteConfig.GCSFuse.ContainerName)
		file := suiteConfig.MountFile(suiteConfig.Test.SampleDataFilename)

		ginkgo.By("Checking the sample data file " + file)
		size, err := mount.FileSize(ctx, ex, pod, file)
		framework.ExpectNoError(err, "sample data file %s is missing in pod %s", file, pod.Name)
		gomega.Expect(size).To(gomega.BeNumerically(">=", suiteConfig.Test.MinSampleDataBytes),
			"sample data file %s is too small to measure caching", file)
		framework.Logf("Sample data file %s has %d bytes", file, size)
		mount.Sync(ctx, ex, pod)

		var report mount.CacheReport
		ginkgo.By("Reading the sample data file for the first time")
		report.First, err = mount.TimedRead(ctx, ex, pod, file)
		framework.ExpectNoError(err)

		ginkgo.By("Reading the sample data file for the second time")
		report.Second, err = mount.TimedRead(ctx, ex, pod, file)
		framework.ExpectNoError(err)
		gomega.Expect(report.Cached()).To(gomega.BeTrue(),
			"second read (%v) was not faster than the first one (%v)", report.Second, report.First)

		ginkgo.By("Reading the sample data file for the third time")
		n, third, err := mount.CountAndTimeRead(ctx, ex, pod, file)
		framework.ExpectNoError(err)
		gomega.Expect(n).To(gomega.BeNumerically(">", 0), "third read of %s returned no data", file)
		report.Third = third

		framework.Logf("Cache performance for %s: %s", file, report)
	})
})
