package framework

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/onsi/ginkgo/v2"
	"k8s.io/kubernetes/test/e2e/framework"
)

var featureRE = regexp.MustCompile(`^[a-z]+(-[a-z]+)*$`)

// FeatureDescribe returns a wrapper function for ginkgo.Describe which injects
// the feature name as label. The parameter should be lowercase with
// no spaces and no feature- prefix.
func FeatureDescribe(feature string) func(...interface{}) bool {
	if !featureRE.MatchString(feature) || strings.HasPrefix(feature, "feature-") {
		framework.RecordBug(framework.NewBug(fmt.Sprintf("feature label must be lowercase, no spaces and no feature- prefix, got instead: %q", feature), 1))
	}
	return func(args ...interface{}) bool {
		args = append([]interface{}{framework.WithLabel("GCSFuse"), framework.WithLabel("feature-" + feature)}, args...)
		return framework.Describe(args...)
	}
}

// GCSFuseIt is wrapper function for ginkgo It. Adds the "Acceptance" label and makes static analysis easier.
func GCSFuseIt(args ...interface{}) bool {
	args = append(args, ginkgo.Offset(1), framework.WithLabel("Acceptance"))
	return framework.It(args...)
}
