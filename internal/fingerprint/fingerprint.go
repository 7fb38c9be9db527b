// Package fingerprint computes the per-stage cache key described in §4.11:
//
//	fp(S) = SHA256(version || SHA256(declared_inputs_content) || SHA256(declared_environment))
//
// recomputed identically at write time (after a successful attempt) and at
// read time (by the Resume Planner) so the two can be compared byte-for-byte.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"subpipe/internal/hash"
)

// ErrInputAbsent signals a declared input file does not exist yet, which
// means the fingerprint cannot be computed — §4.11's deferred-decision edge
// case, typically because an earlier stage is itself being re-run.
type ErrInputAbsent struct {
	Path string
}

func (e *ErrInputAbsent) Error() string {
	return fmt.Sprintf("fingerprint: declared input %q does not exist yet", e.Path)
}

// InputHasher resolves a declared input path (relative to job_dir) to its
// current content hash. The orchestrator and the Resume Planner both
// implement this via internal/hash.SizeAndHash against the real filesystem;
// tests substitute a fake.
type InputHasher func(path string) (digest string, err error)

// Compute derives fp(S) for a stage version, a set of declared input paths
// (already resolved to concrete, job_dir-relative paths — no unresolved
// "{{<stage>}}" templates), and the captured environment subset.
//
// Stages with no declared inputs (e.g. metadata_enrich, which reads only
// descriptor fields) use ComputeDescriptorBased instead, since §4.11 says
// those stages "fingerprint on descriptor fields plus version" — the
// caller is responsible for assembling a stable representation of the
// relevant descriptor fields in that case.
func Compute(stageVersion string, declaredInputs []string, environment map[string]string, hasher InputHasher) (string, error) {
	inputDigest, err := hashInputs(declaredInputs, hasher)
	if err != nil {
		return "", err
	}
	envDigest := hashEnvironment(environment)

	h := sha256.New()
	h.Write([]byte(stageVersion))
	h.Write([]byte(inputDigest))
	h.Write([]byte(envDigest))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeDescriptorBased is the §4.11 fallback for stages with empty
// declared_inputs: the "content" folded in is a caller-supplied stable
// string built from the relevant descriptor fields instead of file hashes.
func ComputeDescriptorBased(stageVersion, descriptorFingerprint string, environment map[string]string) string {
	envDigest := hashEnvironment(environment)
	h := sha256.New()
	h.Write([]byte(stageVersion))
	h.Write([]byte(hash.Bytes([]byte(descriptorFingerprint))))
	h.Write([]byte(envDigest))
	return hex.EncodeToString(h.Sum(nil))
}

func hashInputs(declaredInputs []string, hasher InputHasher) (string, error) {
	// Hash each input individually, then hash the sorted, newline-joined
	// digests — order-independent and stable regardless of declaration order.
	digests := make([]string, 0, len(declaredInputs))
	for _, p := range declaredInputs {
		d, err := hasher(p)
		if err != nil {
			return "", err
		}
		digests = append(digests, p+"="+d)
	}
	sort.Strings(digests)
	return hash.Bytes([]byte(strings.Join(digests, "\n"))), nil
}

func hashEnvironment(environment map[string]string) string {
	keys := make([]string, 0, len(environment))
	for k := range environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(environment[k])
		b.WriteByte('\n')
	}
	return hash.Bytes([]byte(b.String()))
}
