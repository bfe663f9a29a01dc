package framework

import (
	"context"

	corev1 "k8s.io/api/core/v1"

	"k8s.io/kubernetes/test/e2e/framework"
	e2epod "k8s.io/kubernetes/test/e2e/framework/pod"

	"github.com/carlory/gcsfuse-conformance/e2e/util/framework/mount"
)

var _ mount.Executor = &PodExecutor{}

// PodExecutor runs shell commands in pods through the API server exec subresource.
type PodExecutor struct {
	f *framework.Framework
	// Container selects the container to run in. Empty means the first one.
	Container string
}

// NewPodExecutor returns an executor using the clients of f.
func NewPodExecutor(f *framework.Framework, container string) *PodExecutor {
	return &PodExecutor{f: f, Container: container}
}

// Exec runs command with /bin/sh -c in pod.
func (e *PodExecutor) Exec(ctx context.Context, pod *corev1.Pod, command string) (string, string, error) {
	container := e.Container
	if container == "" && len(pod.Spec.Containers) > 0 {
		container = pod.Spec.Containers[0].Name
	}
	return e2epod.ExecWithOptionsContext(ctx, e.f, e2epod.ExecOptions{
		Command:       []string{"/bin/sh", "-c", command},
		Namespace:     pod.Namespace,
		PodName:       pod.Name,
		ContainerName: container,
		CaptureStdout: true,
		CaptureStderr: true,
	})
}
