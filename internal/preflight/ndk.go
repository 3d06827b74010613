package preflight

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/mod/semver"
)

// ErrClangNotFound is returned when no target clang driver is found.
var ErrClangNotFound = errors.New("clang driver not found")

// ClangPathCandidates returns the driver names searched on PATH.
// The API-level 21 wrapper is the oldest the NDK ships for 64-bit ARM.
func ClangPathCandidates(triple string) []string {
	names := []string{triple + "-clang", triple + "21-clang"}
	if runtime.GOOS == "windows" {
		return []string{names[0], names[0] + ".cmd", names[1], names[1] + ".cmd"}
	}
	return names
}

// ClangGlobs returns the NDK-relative patterns searched for the driver.
// The prebuilt host directory (linux-x86_64, darwin-x86_64, ...) and the
// API-level suffix vary per install.
func ClangGlobs(triple string) []string {
	return []string{
		"toolchains/llvm/prebuilt/*/bin/" + triple + "*-clang*",
		"build/core/toolchains/" + triple + "-clang*",
	}
}

// FindClang locates the target clang driver on PATH or under ndkRoot.
// PATH wins; otherwise the first NDK match in lexical order is returned
// as an absolute path.
func FindClang(triple, ndkRoot string, lookPath func(string) (string, error)) (string, error) {
	for _, name := range ClangPathCandidates(triple) {
		if p, err := lookPath(name); err == nil {
			return p, nil
		}
	}
	if ndkRoot == "" {
		return "", ErrClangNotFound
	}
	fsys := os.DirFS(ndkRoot)
	for _, pattern := range ClangGlobs(triple) {
		ms, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return "", fmt.Errorf("glob %q: %w", pattern, err)
		}
		if len(ms) > 0 {
			return filepath.Join(ndkRoot, filepath.FromSlash(ms[0])), nil
		}
	}
	return "", ErrClangNotFound
}

// ReadNDKRevision returns Pkg.Revision from <ndkRoot>/source.properties.
func ReadNDKRevision(ndkRoot string) (string, error) {
	f, err := os.Open(filepath.Join(ndkRoot, "source.properties"))
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if ok && strings.TrimSpace(key) == "Pkg.Revision" {
			return strings.TrimSpace(value), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", errors.New("Pkg.Revision not found in source.properties")
}

// CheckNDKRevision verifies that the NDK under ndkRoot is at least min.
// Revisions such as "26.1.10909125" or "25.0.8528842-beta1" compare as
// semantic versions.
func CheckNDKRevision(ndkRoot, min string) (string, error) {
	minSemver, ok := normalizeSemver(min)
	if !ok {
		return "", &Error{
			Check:   CheckNDKVersion,
			Problem: fmt.Sprintf("invalid minimum NDK version %q", min),
			Remedy:  "set preflight.min_ndk_version to a version such as 26.1",
		}
	}
	rev, err := ReadNDKRevision(ndkRoot)
	if err != nil {
		return "", &Error{
			Check:   CheckNDKVersion,
			Problem: "cannot read NDK revision: " + err.Error(),
			Remedy:  "point " + EnvNDKRoot + " at a complete NDK install (it must contain source.properties)",
			Err:     err,
		}
	}
	revSemver, ok := normalizeSemver(rev)
	if !ok {
		return "", &Error{
			Check:   CheckNDKVersion,
			Problem: fmt.Sprintf("unrecognized NDK revision %q", rev),
			Remedy:  "point " + EnvNDKRoot + " at an official NDK release",
		}
	}
	if semver.Compare(revSemver, minSemver) < 0 {
		return "", &Error{
			Check:   CheckNDKVersion,
			Problem: fmt.Sprintf("NDK %s is older than the required %s", rev, min),
			Remedy:  "install NDK " + min + " or newer and update " + EnvNDKRoot,
		}
	}
	return rev, nil
}

func normalizeSemver(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", false
	}
	return v, true
}
