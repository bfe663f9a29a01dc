// Package config holds the settings of the GCS FUSE acceptance suite.
//
// Settings come from a YAML file (see Load) layered over Default. Durations
// are expressed in whole seconds, as in the files used to drive the suite
// before it was written in Go.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"go.yaml.in/yaml/v2"
	"k8s.io/klog/v2"

	"github.com/carlory/gcsfuse-conformance/pkg/poll"
)

const (
	// ConfigFileEnvVar points to the YAML file when no flag is given.
	ConfigFileEnvVar = "GCSFUSE_E2E_CONFIG"
	// TimeoutsEnvVar holds a JSON object overriding scaling timeouts, in seconds.
	TimeoutsEnvVar = "GCSFUSE_E2E_TIMEOUTS"
	// HMACAccessKeyIDEnvVar and HMACSecretEnvVar hold the bucket credentials.
	HMACAccessKeyIDEnvVar = "GCS_HMAC_ACCESS_KEY_ID"
	HMACSecretEnvVar      = "GCS_HMAC_SECRET"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the whole suite configuration.
type Config struct {
	GCSFuse GCSFuse `yaml:"gcsFuse"`
	Driver  Driver  `yaml:"driver"`
	Test    Test    `yaml:"test"`
	Scaling Scaling `yaml:"scaling"`
	Bucket  Bucket  `yaml:"bucket"`
}

// GCSFuse describes the workload that mounts the bucket.
type GCSFuse struct {
	Namespace      string `yaml:"namespace"`
	DeploymentName string `yaml:"deploymentName"`
	AppLabel       string `yaml:"appLabel"`
	// ContainerName is the container commands are executed in. Empty means
	// the first container of the pod.
	ContainerName string `yaml:"containerName"`
	MountPath     string `yaml:"mountPath"`
	// Replicas is the minimum number of pods for multi-pod scenarios.
	Replicas      int32 `yaml:"replicas"`
	RetryCount    int   `yaml:"retryCount"`
	RetryInterval int   `yaml:"retryInterval"`
}

// Driver describes where the CSI driver runs.
type Driver struct {
	Namespace          string   `yaml:"namespace"`
	NodeLabelSelectors []string `yaml:"nodeLabelSelectors"`
	CSIDriverName      string   `yaml:"csiDriverName"`
}

// Test holds file names and contents used by the I/O scenarios.
type Test struct {
	TestFilename         string `yaml:"testFilename"`
	TestContent          string `yaml:"testContent"`
	MultiPodTestFilename string `yaml:"multiPodTestFilename"`
	MultiPodTestContent  string `yaml:"multiPodTestContent"`
	SampleDataFilename   string `yaml:"sampleDataFilename"`
	MinSampleDataBytes   int64  `yaml:"minSampleDataBytes"`
	// UniqueFilenames appends a random suffix to written files.
	UniqueFilenames bool `yaml:"uniqueFilenames"`
}

// Scaling holds replica targets and the timing of the scaling scenarios.
// All durations are in seconds.
type Scaling struct {
	MinReplicas            int32 `yaml:"minReplicas"`
	MaxReplicas            int32 `yaml:"maxReplicas"`
	Interval               int   `yaml:"interval"`
	ScaleCheckInterval     int   `yaml:"scaleCheckInterval"`
	ScaleUpTimeout         int   `yaml:"scaleUpTimeout"`
	ScaleDownTimeout       int   `yaml:"scaleDownTimeout"`
	NodeProvisionTimeout   int   `yaml:"nodeProvisionTimeout"`
	TerminationRetries     int   `yaml:"terminationRetries"`
	ExpectNodeProvisioning bool  `yaml:"expectNodeProvisioning"`
}

// Bucket enables checks against the bucket through its S3 compatible API.
type Bucket struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		GCSFuse: GCSFuse{
			Namespace:      "default",
			DeploymentName: "gcs-fuse",
			AppLabel:       "gcs-fuse",
			MountPath:      "/data",
			Replicas:       2,
			RetryCount:     10,
			RetryInterval:  5,
		},
		Driver: Driver{
			Namespace: "kube-system",
			NodeLabelSelectors: []string{
				"app.kubernetes.io/name=gcsfusecsi-node",
				"k8s-app=gcs-fuse-csi-driver",
			},
			CSIDriverName: "gcsfuse.csi.storage.gke.io",
		},
		Test: Test{
			TestFilename:         "test-file.txt",
			TestContent:          "Hello from GCS FUSE",
			MultiPodTestFilename: "multi-pod-test-file.txt",
			MultiPodTestContent:  "Hello from multiple pods",
			SampleDataFilename:   "sample-data.bin",
			MinSampleDataBytes:   1024 * 1024,
		},
		Scaling: Scaling{
			MinReplicas:          1,
			MaxReplicas:          5,
			Interval:             10,
			ScaleCheckInterval:   10,
			ScaleUpTimeout:       600,
			ScaleDownTimeout:     900,
			NodeProvisionTimeout: 900,
			TerminationRetries:   10,
		},
		Bucket: Bucket{
			Endpoint: "https://storage.googleapis.com",
			Region:   "auto",
		},
	}
}

// Load reads the file at path over the defaults. An empty path falls back to
// the file named by GCSFUSE_E2E_CONFIG, and to the defaults alone when that
// is unset too. Timeout overrides from GCSFUSE_E2E_TIMEOUTS are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(ConfigFileEnvVar)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		klog.V(2).Infof("Loaded GCS FUSE suite configuration from %s", path)
	} else {
		klog.V(2).Info("No GCS FUSE suite configuration file given, using defaults")
	}

	if err := cfg.applyTimeoutOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// timeoutOverrides lists the only keys TimeoutsEnvVar may set.
type timeoutOverrides struct {
	Interval             *int `json:"interval"`
	ScaleCheckInterval   *int `json:"scaleCheckInterval"`
	ScaleUpTimeout       *int `json:"scaleUpTimeout"`
	ScaleDownTimeout     *int `json:"scaleDownTimeout"`
	NodeProvisionTimeout *int `json:"nodeProvisionTimeout"`
}

func (c *Config) applyTimeoutOverrides() error {
	raw, ok := os.LookupEnv(TimeoutsEnvVar)
	if !ok {
		return nil
	}
	var o timeoutOverrides
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		return fmt.Errorf("%s env variable is not valid: %w", TimeoutsEnvVar, err)
	}
	set := func(dst, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	set(&c.Scaling.Interval, o.Interval)
	set(&c.Scaling.ScaleCheckInterval, o.ScaleCheckInterval)
	set(&c.Scaling.ScaleUpTimeout, o.ScaleUpTimeout)
	set(&c.Scaling.ScaleDownTimeout, o.ScaleDownTimeout)
	set(&c.Scaling.NodeProvisionTimeout, o.NodeProvisionTimeout)
	klog.V(2).Infof("Applied scaling timeout overrides from %s", TimeoutsEnvVar)
	return nil
}

// Validate checks the invariants the scenarios rely on.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.GCSFuse.Namespace != "", "gcsFuse.namespace must be set")
	check(c.GCSFuse.DeploymentName != "", "gcsFuse.deploymentName must be set")
	check(c.GCSFuse.AppLabel != "", "gcsFuse.appLabel must be set")
	check(path.IsAbs(c.GCSFuse.MountPath), "gcsFuse.mountPath must be an absolute path, got %q", c.GCSFuse.MountPath)
	check(c.GCSFuse.Replicas > 0, "gcsFuse.replicas must be positive, got %d", c.GCSFuse.Replicas)
	check(c.GCSFuse.RetryCount > 0, "gcsFuse.retryCount must be positive, got %d", c.GCSFuse.RetryCount)
	check(c.GCSFuse.RetryInterval > 0, "gcsFuse.retryInterval must be positive, got %d", c.GCSFuse.RetryInterval)
	check(c.Driver.Namespace != "", "driver.namespace must be set")
	check(len(c.Driver.NodeLabelSelectors) > 0, "driver.nodeLabelSelectors must not be empty")
	check(c.Test.MinSampleDataBytes >= 0, "test.minSampleDataBytes must not be negative")
	check(c.Scaling.MinReplicas >= 0, "scaling.minReplicas must not be negative, got %d", c.Scaling.MinReplicas)
	check(c.Scaling.MaxReplicas > 0, "scaling.maxReplicas must be positive, got %d", c.Scaling.MaxReplicas)
	check(c.Scaling.MinReplicas <= c.Scaling.MaxReplicas, "scaling.minReplicas (%d) must not exceed scaling.maxReplicas (%d)", c.Scaling.MinReplicas, c.Scaling.MaxReplicas)
	check(c.Scaling.Interval > 0, "scaling.interval must be positive, got %d", c.Scaling.Interval)
	check(c.Scaling.ScaleCheckInterval > 0, "scaling.scaleCheckInterval must be positive, got %d", c.Scaling.ScaleCheckInterval)
	check(c.Scaling.ScaleUpTimeout > 0, "scaling.scaleUpTimeout must be positive, got %d", c.Scaling.ScaleUpTimeout)
	check(c.Scaling.ScaleDownTimeout > 0, "scaling.scaleDownTimeout must be positive, got %d", c.Scaling.ScaleDownTimeout)
	check(c.Scaling.NodeProvisionTimeout > 0, "scaling.nodeProvisionTimeout must be positive, got %d", c.Scaling.NodeProvisionTimeout)
	check(c.Scaling.TerminationRetries > 0, "scaling.terminationRetries must be positive, got %d", c.Scaling.TerminationRetries)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// AppSelector is the label selector matching the workload pods.
func (c *Config) AppSelector() string {
	return "app=" + c.GCSFuse.AppLabel
}

// MountFile returns the path of name under the mount.
func (c *Config) MountFile(name string) string {
	return path.Join(c.GCSFuse.MountPath, name)
}

func seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// PodStartPolicy bounds waiting for the workload pods to start running.
func (c *Config) PodStartPolicy() poll.Policy {
	return poll.Policy{
		Interval:    seconds(c.GCSFuse.RetryInterval),
		MaxAttempts: c.GCSFuse.RetryCount,
	}
}

// ScaleUpPolicy bounds waiting for the scaled up pods.
func (c *Config) ScaleUpPolicy() poll.Policy {
	return poll.Policy{
		Interval: seconds(c.Scaling.ScaleCheckInterval),
		Timeout:  seconds(c.Scaling.ScaleUpTimeout),
	}
}

// ScaleDownPolicy bounds waiting for pods and nodes to go away.
func (c *Config) ScaleDownPolicy() poll.Policy {
	return poll.Policy{
		Interval: seconds(c.Scaling.ScaleCheckInterval),
		Timeout:  seconds(c.Scaling.ScaleDownTimeout),
	}
}

// NodeProvisionPolicy bounds waiting for the autoscaler to add nodes.
func (c *Config) NodeProvisionPolicy() poll.Policy {
	return poll.Policy{
		Interval: seconds(c.Scaling.ScaleCheckInterval),
		Timeout:  seconds(c.Scaling.NodeProvisionTimeout),
	}
}

// TerminationPolicy bounds waiting for excess pods to start terminating.
func (c *Config) TerminationPolicy() poll.Policy {
	return poll.Policy{
		Interval:    seconds(c.Scaling.Interval),
		MaxAttempts: c.Scaling.TerminationRetries,
	}
}

// SettleDelay is how long to wait before checking that scaling started.
func (c *Config) SettleDelay() time.Duration {
	return seconds(c.Scaling.Interval)
}

// HMACCredentials returns the bucket credentials from the environment.
func HMACCredentials() (accessKeyID, secret string, ok bool) {
	accessKeyID = os.Getenv(HMACAccessKeyIDEnvVar)
	secret = os.Getenv(HMACSecretEnvVar)
	return accessKeyID, secret, accessKeyID != "" && secret != ""
}
