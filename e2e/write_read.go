package e2e

import (
	"context"
	"errors"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"k8s.io/kubernetes/test/e2e/framework"

	frameworkutil "github.com/carlory/gcsfuse-conformance/e2e/util/framework"
	"github.com/carlory/gcsfuse-conformance/e2e/util/framework/bucket"
	"github.com/carlory/gcsfuse-conformance/e2e/util/framework/mount"
	"github.com/carlory/gcsfuse-conformance/pkg/poll"
)

var _ = frameworkutil.FeatureDescribe("write-read")("GCS FUSE Write and Read", func() {
	f := framework.NewDefaultFramework("gcsfuse-write-read")
	f.SkipNamespaceCreation = true

	/*
		Testname: GCS FUSE write and read
		Description: Write the configured test content to a file under the mount path of a running pod. Reading
		the file back in the same pod MUST return the same content. When bucket checks are configured, the file
		MUST show up as an object of the bucket.
	*/
	frameworkutil.GCSFuseIt("should read back the content written to the mount", func(ctx context.Context) {
		content := suiteConfig.Test.TestContent
		pod := waitForRunningPod(ctx, f.ClientSet)
		ex := frameworkutil.NewPodExecutor(f, suiteConfig.GCSFuse.ContainerName)
		file := testFile(ex, pod, suiteConfig.Test.TestFilename)

		ginkgo.By("Writing the test content to " + file)
		framework.ExpectNoError(mount.WriteFile(ctx, ex, pod, file, content), "failed to write %s in pod %s", file, pod.Name)

		ginkgo.By("Reading " + file + " back")
		got, err := mount.ReadFile(ctx, ex, pod, file)
		framework.ExpectNoError(err, "failed to read %s in pod %s", file, pod.Name)
		gomega.Expect(got).To(gomega.Equal(content), "content mismatch in %s", file)

		if !bucket.Enabled(suiteConfig.Bucket) {
			framework.Logf("Bucket checks are not configured, not looking up %s in the bucket", file)
			return
		}
		ginkgo.By("Looking up " + file + " in the bucket")
		client, err := bucket.New(ctx, suiteConfig.Bucket)
		framework.ExpectNoError(err)
		key, err := bucket.ObjectKey(suiteConfig.GCSFuse.MountPath, file)
		framework.ExpectNoError(err)
		// echo appends a newline.
		want := int64(len(content) + 1)
		res, err := poll.Until(ctx, suiteConfig.PodStartPolicy(), func(ctx context.Context) (int64, error) {
			size, err := client.ObjectSize(ctx, key)
			if errors.Is(err, bucket.ErrObjectNotFound) {
				return -1, nil
			}
			return size, err
		}, func(size int64) bool { return size == want })
		expectPoll(res, err, "object %s in bucket %s does not have %d bytes", key, client.Bucket(), want)
	})
})
