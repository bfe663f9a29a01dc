package workload

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clientset "k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	"github.com/carlory/gcsfuse-conformance/pkg/poll"
)

// ReplicaFixture scales a deployment for the duration of one scenario and
// puts the original replica count back afterwards. Register Restore with
// ginkgo.DeferCleanup right after creating it.
type ReplicaFixture struct {
	client    clientset.Interface
	namespace string
	name      string
	selector  string
	settle    poll.Policy
	original  int32
	current   int32
}

// NewReplicaFixture records the current spec.replicas of the deployment.
// selector matches the pods of the deployment; settle bounds the wait for
// them after Restore.
func NewReplicaFixture(ctx context.Context, c clientset.Interface, ns, name, selector string, settle poll.Policy) (*ReplicaFixture, error) {
	d, err := c.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting deployment %s/%s: %w", ns, name, err)
	}
	replicas := ptr.Deref(d.Spec.Replicas, 1)
	return &ReplicaFixture{
		client:    c,
		namespace: ns,
		name:      name,
		selector:  selector,
		settle:    settle,
		original:  replicas,
		current:   replicas,
	}, nil
}

// Original is the replica count found when the fixture was created.
func (f *ReplicaFixture) Original() int32 {
	return f.original
}

// Current is the replica count last set through the fixture.
func (f *ReplicaFixture) Current() int32 {
	return f.current
}

// ScaleTo sets the deployment to n replicas.
func (f *ReplicaFixture) ScaleTo(ctx context.Context, n int32) error {
	if err := ScaleDeployment(ctx, f.client, f.namespace, f.name, n); err != nil {
		return err
	}
	f.current = n
	return nil
}

// EnsureAtLeast scales the deployment up to n replicas if it has fewer.
// It reports whether a scale happened.
func (f *ReplicaFixture) EnsureAtLeast(ctx context.Context, n int32) (bool, error) {
	if f.current >= n {
		return false, nil
	}
	if err := f.ScaleTo(ctx, n); err != nil {
		return false, err
	}
	return true, nil
}

// Restore scales the deployment back to its original replica count and waits
// until exactly that many pods run and none is terminating. It does nothing
// when the count was never changed, and may be called more than once.
func (f *ReplicaFixture) Restore(ctx context.Context) error {
	if f.current == f.original {
		return nil
	}
	if err := f.ScaleTo(ctx, f.original); err != nil {
		return err
	}
	want := int(f.original)
	_, err := poll.Until(ctx, f.settle, PodCounts(f.client, f.namespace, f.selector), func(pc PodCount) bool {
		return pc.Running == want && pc.Terminating == 0
	})
	if err != nil {
		return fmt.Errorf("waiting for deployment %s/%s to settle at %d replicas: %w", f.namespace, f.name, f.original, err)
	}
	return nil
}
