package framework

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	uexec "k8s.io/utils/exec"

	"k8s.io/kubernetes/test/e2e/framework"
)

// HelmBuilder is used to build, customize and execute a helm Command.
type HelmBuilder struct {
	cmd *exec.Cmd
}

// NewHelmCommand returns a HelmBuilder for running helm against the cluster under test.
func NewHelmCommand(ctx context.Context, namespace string, args ...string) *HelmBuilder {
	defaultArgs := []string{}

	// Reference a --kube-apiserver option so tests can run anywhere.
	if framework.TestContext.Host != "" {
		defaultArgs = append(defaultArgs, "--kube-apiserver="+framework.TestContext.Host)
	}
	if framework.TestContext.KubeConfig != "" {
		defaultArgs = append(defaultArgs, "--kubeconfig="+framework.TestContext.KubeConfig)
		if framework.TestContext.KubeContext != "" {
			defaultArgs = append(defaultArgs, "--kube-context="+framework.TestContext.KubeContext)
		}
	}
	if namespace != "" {
		defaultArgs = append(defaultArgs, fmt.Sprintf("--namespace=%s", namespace))
	}

	return &HelmBuilder{cmd: exec.CommandContext(ctx, "helm", append(defaultArgs, args...)...)}
}

// Exec runs the helm executable.
func (b *HelmBuilder) Exec() (string, error) {
	stdout, _, err := b.ExecWithFullOutput()
	return stdout, err
}

// ExecWithFullOutput runs the helm executable, and returns the stdout and stderr.
func (b *HelmBuilder) ExecWithFullOutput() (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := b.cmd
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	framework.Logf("Running '%s %s'", cmd.Path, strings.Join(cmd.Args[1:], " "))
	if err := cmd.Run(); err != nil {
		rc := 127
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			rc = ee.ExitCode()
			framework.Logf("rc: %d", rc)
		}
		return stdout.String(), stderr.String(), uexec.CodeExitError{
			Err:  fmt.Errorf("error running %v:\nCommand stdout:\n%v\nstderr:\n%v\nerror:\n%v", cmd, stdout.String(), stderr.String(), err),
			Code: rc,
		}
	}
	framework.Logf("stderr: %q", stderr.String())
	return stdout.String(), stderr.String(), nil
}

// RunHelm is a convenience wrapper over HelmBuilder
func RunHelm(ctx context.Context, namespace string, args ...string) (string, error) {
	return NewHelmCommand(ctx, namespace, args...).Exec()
}
