// Package mount runs file operations inside pods against the bucket mount.
package mount

import (
	"context"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"
)

// Executor runs a shell command in a pod.
type Executor interface {
	Exec(ctx context.Context, pod *corev1.Pod, command string) (stdout, stderr string, err error)
}

// ExecError reports a failed command together with its output.
type ExecError struct {
	Pod     string
	Command string
	Stderr  string
	Err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("running %q in pod %s: %v (stderr: %q)", e.Command, e.Pod, e.Err, e.Stderr)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

func run(ctx context.Context, ex Executor, pod *corev1.Pod, command string) (string, error) {
	stdout, stderr, err := ex.Exec(ctx, pod, command)
	if err != nil {
		return stdout, &ExecError{Pod: pod.Name, Command: command, Stderr: stderr, Err: err}
	}
	return stdout, nil
}

// Quote makes s a single shell word.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// UniqueName inserts a random suffix before the extension of name.
func UniqueName(name string) string {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "-" + uuid.NewString()[:8] + ext
}

// VerifyListable checks that the mount path can be listed.
func VerifyListable(ctx context.Context, ex Executor, pod *corev1.Pod, mountPath string) (string, error) {
	return run(ctx, ex, pod, "ls "+Quote(mountPath))
}

// VerifyNonEmpty checks that listing the mount path returns something.
func VerifyNonEmpty(ctx context.Context, ex Executor, pod *corev1.Pod, mountPath string) error {
	out, err := VerifyListable(ctx, ex, pod, mountPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(out) == "" {
		return fmt.Errorf("mount %s in pod %s is empty", mountPath, pod.Name)
	}
	return nil
}

// WriteFile writes content followed by a newline to file.
func WriteFile(ctx context.Context, ex Executor, pod *corev1.Pod, file, content string) error {
	_, err := run(ctx, ex, pod, fmt.Sprintf("echo %s > %s", Quote(content), Quote(file)))
	return err
}

// ReadFile returns the content of file without surrounding whitespace.
func ReadFile(ctx context.Context, ex Executor, pod *corev1.Pod, file string) (string, error) {
	out, err := run(ctx, ex, pod, "cat "+Quote(file))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RoundTrip writes content from writer and reads it back from every reader.
// All readers are tried; the returned error aggregates every failure.
func RoundTrip(ctx context.Context, ex Executor, writer *corev1.Pod, readers []*corev1.Pod, file, content string) error {
	if err := WriteFile(ctx, ex, writer, file, content); err != nil {
		return err
	}
	var errs []error
	for _, reader := range readers {
		got, err := ReadFile(ctx, ex, reader, file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if got != content {
			errs = append(errs, fmt.Errorf("pod %s read %q from %s, pod %s wrote %q", reader.Name, got, file, writer.Name, content))
		}
	}
	return utilerrors.NewAggregate(errs)
}

// RemoveFile deletes file, succeeding when it is already gone.
func RemoveFile(ctx context.Context, ex Executor, pod *corev1.Pod, file string) error {
	_, err := run(ctx, ex, pod, "rm -f "+Quote(file))
	return err
}

// FileSize returns the size of file in bytes.
func FileSize(ctx context.Context, ex Executor, pod *corev1.Pod, file string) (int64, error) {
	out, err := run(ctx, ex, pod, "stat -c %s "+Quote(file))
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing size of %s in pod %s: %w", file, pod.Name, err)
	}
	return size, nil
}

// TimedRead reads file to /dev/null and returns how long the command took,
// exec round trip included.
func TimedRead(ctx context.Context, ex Executor, pod *corev1.Pod, file string) (time.Duration, error) {
	start := time.Now()
	_, err := run(ctx, ex, pod, fmt.Sprintf("cat %s > /dev/null", Quote(file)))
	return time.Since(start), err
}

// CountBytes returns the number of bytes read from file.
func CountBytes(ctx context.Context, ex Executor, pod *corev1.Pod, file string) (int64, error) {
	out, err := run(ctx, ex, pod, fmt.Sprintf("cat %s | wc -c", Quote(file)))
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing byte count of %s in pod %s: %w", file, pod.Name, err)
	}
	return n, nil
}

// CountAndTimeRead counts the bytes of file, then times a plain read of it so
// the duration compares with the ones TimedRead returns.
func CountAndTimeRead(ctx context.Context, ex Executor, pod *corev1.Pod, file string) (int64, time.Duration, error) {
	n, err := CountBytes(ctx, ex, pod, file)
	if err != nil {
		return 0, 0, err
	}
	d, err := TimedRead(ctx, ex, pod, file)
	return n, d, err
}

// Sync flushes file system buffers in the pod. Failures are only logged.
func Sync(ctx context.Context, ex Executor, pod *corev1.Pod) {
	if _, err := run(ctx, ex, pod, "sync"); err != nil {
		klog.FromContext(ctx).Info("Ignoring failed sync", "pod", klog.KObj(pod), "err", err)
	}
}

// CacheReport holds the durations of three consecutive reads of one file.
type CacheReport struct {
	First  time.Duration
	Second time.Duration
	Third  time.Duration
}

// Improvement is how many times faster the second read was than the first.
func (r CacheReport) Improvement() float64 {
	if r.Second <= 0 {
		return math.Inf(1)
	}
	return float64(r.First) / float64(r.Second)
}

// Cached reports whether the second read was faster than the first.
func (r CacheReport) Cached() bool {
	return r.Second < r.First
}

func (r CacheReport) String() string {
	return fmt.Sprintf("first=%v second=%v third=%v improvement=%.2fx", r.First, r.Second, r.Third, r.Improvement())
}
