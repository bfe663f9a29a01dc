package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onsi/gomega"

	"github.com/carlory/gcsfuse-conformance/pkg/poll"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return p
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	g := gomega.NewWithT(t)
	t.Setenv(ConfigFileEnvVar, "")

	cfg, err := Load("")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(cfg).To(gomega.Equal(Default()))
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	g := gomega.NewWithT(t)
	p := writeConfig(t, `
gcsFuse:
  namespace: storage
  deploymentName: fuse-app
  mountPath: /mnt/bucket
scaling:
  maxReplicas: 8
  scaleUpTimeout: 120
`)

	cfg, err := Load(p)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(cfg.GCSFuse.Namespace).To(gomega.Equal("storage"))
	g.Expect(cfg.GCSFuse.DeploymentName).To(gomega.Equal("fuse-app"))
	g.Expect(cfg.GCSFuse.MountPath).To(gomega.Equal("/mnt/bucket"))
	g.Expect(cfg.GCSFuse.AppLabel).To(gomega.Equal("gcs-fuse"))
	g.Expect(cfg.Scaling.MaxReplicas).To(gomega.BeEquivalentTo(8))
	g.Expect(cfg.Scaling.ScaleUpTimeout).To(gomega.Equal(120))
	g.Expect(cfg.Scaling.ScaleDownTimeout).To(gomega.Equal(900))
}

func TestLoadReadsPathFromEnv(t *testing.T) {
	g := gomega.NewWithT(t)
	p := writeConfig(t, "gcsFuse:\n  appLabel: reader\n")
	t.Setenv(ConfigFileEnvVar, p)

	cfg, err := Load("")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(cfg.AppSelector()).To(gomega.Equal("app=reader"))
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	g := gomega.NewWithT(t)
	p := writeConfig(t, "gcsFuse:\n  mount_path: /data\n")

	_, err := Load(p)
	g.Expect(err).To(gomega.HaveOccurred())
	g.Expect(err.Error()).To(gomega.ContainSubstring("mount_path"))
}

func TestLoadMissingFile(t *testing.T) {
	g := gomega.NewWithT(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	g.Expect(err).To(gomega.MatchError(os.ErrNotExist))
}

func TestLoadAppliesTimeoutOverrides(t *testing.T) {
	g := gomega.NewWithT(t)
	t.Setenv(ConfigFileEnvVar, "")
	t.Setenv(TimeoutsEnvVar, `{"scaleUpTimeout": 300, "interval": 2}`)

	cfg, err := Load("")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(cfg.Scaling.ScaleUpTimeout).To(gomega.Equal(300))
	g.Expect(cfg.Scaling.Interval).To(gomega.Equal(2))
	g.Expect(cfg.Scaling.ScaleDownTimeout).To(gomega.Equal(900))
	g.Expect(cfg.Scaling.MaxReplicas).To(gomega.BeEquivalentTo(5))
}

func TestLoadRejectsMalformedTimeoutOverrides(t *testing.T) {
	g := gomega.NewWithT(t)
	t.Setenv(ConfigFileEnvVar, "")
	t.Setenv(TimeoutsEnvVar, `{"scaleUpTimeout": "soon"}`)

	_, err := Load("")
	g.Expect(err).To(gomega.HaveOccurred())
	g.Expect(err.Error()).To(gomega.ContainSubstring(TimeoutsEnvVar))
}

func TestLoadRejectsTimeoutOverridesOutsideTimeouts(t *testing.T) {
	for _, raw := range []string{
		`{"minReplicas": 9}`,
		`{"maxReplicas": 1}`,
		`{"scaleUpTimout": 300}`,
		`{"terminationRetries": 1}`,
	} {
		t.Run(raw, func(t *testing.T) {
			g := gomega.NewWithT(t)
			t.Setenv(ConfigFileEnvVar, "")
			t.Setenv(TimeoutsEnvVar, raw)

			cfg, err := Load("")
			g.Expect(err).To(gomega.MatchError(gomega.ContainSubstring("unknown field")))
			g.Expect(err.Error()).To(gomega.ContainSubstring(TimeoutsEnvVar))
			g.Expect(cfg).To(gomega.BeNil())
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "relative mount path", mutate: func(c *Config) { c.GCSFuse.MountPath = "data" }, want: "mountPath"},
		{name: "empty mount path", mutate: func(c *Config) { c.GCSFuse.MountPath = "" }, want: "mountPath"},
		{name: "zero retry interval", mutate: func(c *Config) { c.GCSFuse.RetryInterval = 0 }, want: "retryInterval"},
		{name: "min above max", mutate: func(c *Config) { c.Scaling.MinReplicas = 6 }, want: "must not exceed"},
		{name: "negative scale down timeout", mutate: func(c *Config) { c.Scaling.ScaleDownTimeout = -1 }, want: "scaleDownTimeout"},
		{name: "no driver selectors", mutate: func(c *Config) { c.Driver.NodeLabelSelectors = nil }, want: "nodeLabelSelectors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gomega.NewWithT(t)
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			g.Expect(err).To(gomega.MatchError(ErrInvalidConfig))
			g.Expect(err.Error()).To(gomega.ContainSubstring(tt.want))
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	g := gomega.NewWithT(t)
	cfg := Default()
	cfg.GCSFuse.Namespace = ""
	cfg.Scaling.Interval = 0

	err := cfg.Validate()
	g.Expect(err).To(gomega.HaveOccurred())
	g.Expect(err.Error()).To(gomega.And(
		gomega.ContainSubstring("gcsFuse.namespace"),
		gomega.ContainSubstring("scaling.interval"),
	))
}

func TestPolicies(t *testing.T) {
	g := gomega.NewWithT(t)
	cfg := Default()

	g.Expect(cfg.PodStartPolicy()).To(gomega.Equal(poll.Policy{Interval: 5 * time.Second, MaxAttempts: 10}))
	g.Expect(cfg.ScaleUpPolicy()).To(gomega.Equal(poll.Policy{Interval: 10 * time.Second, Timeout: 10 * time.Minute}))
	g.Expect(cfg.ScaleDownPolicy()).To(gomega.Equal(poll.Policy{Interval: 10 * time.Second, Timeout: 15 * time.Minute}))
	g.Expect(cfg.NodeProvisionPolicy()).To(gomega.Equal(poll.Policy{Interval: 10 * time.Second, Timeout: 15 * time.Minute}))
	g.Expect(cfg.TerminationPolicy()).To(gomega.Equal(poll.Policy{Interval: 10 * time.Second, MaxAttempts: 10}))

	for _, p := range []poll.Policy{cfg.PodStartPolicy(), cfg.ScaleUpPolicy(), cfg.ScaleDownPolicy(), cfg.NodeProvisionPolicy(), cfg.TerminationPolicy()} {
		g.Expect(p.Validate()).To(gomega.Succeed())
	}
}

func TestMountFile(t *testing.T) {
	g := gomega.NewWithT(t)
	cfg := Default()
	cfg.GCSFuse.MountPath = "/data/"
	g.Expect(cfg.MountFile("a.txt")).To(gomega.Equal("/data/a.txt"))
}

func TestHMACCredentials(t *testing.T) {
	g := gomega.NewWithT(t)
	t.Setenv(HMACAccessKeyIDEnvVar, "GOOG1EXAMPLE")
	t.Setenv(HMACSecretEnvVar, "")
	_, _, ok := HMACCredentials()
	g.Expect(ok).To(gomega.BeFalse())

	t.Setenv(HMACSecretEnvVar, "secret")
	id, secret, ok := HMACCredentials()
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(id).To(gomega.Equal("GOOG1EXAMPLE"))
	g.Expect(secret).To(gomega.Equal("secret"))
}
