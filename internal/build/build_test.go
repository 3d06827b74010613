package build

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/deixis/droidship/internal/runner/runnertest"
)

func newBuilder(fake *runnertest.Fake) *Builder {
	return &Builder{
		Runner:      fake,
		Workspace:   "/src/squalr",
		Target:      "aarch64-linux-android",
		WorkerCrate: "squalr-cli",
		APKCrate:    "squalr",
	}
}

const (
	releaseAPK = "cargo apk build --target aarch64-linux-android --release --lib"
	debugAPK   = "cargo apk build --target aarch64-linux-android --lib"
)

func TestWorker(t *testing.T) {
	fake := runnertest.New()
	b := newBuilder(fake)

	path, err := b.Worker(context.Background(), Release)
	if err != nil {
		t.Fatalf("Worker: %v", err)
	}
	want := "cargo ndk --target aarch64-linux-android build -p squalr-cli -v --release"
	if calls := fake.Calls(); len(calls) != 1 || calls[0] != want {
		t.Errorf("calls = %v, want [%s]", calls, want)
	}
	if wantPath := filepath.Join("/src/squalr", "target", "aarch64-linux-android", "release", "squalr-cli"); path != wantPath {
		t.Errorf("path = %q, want %q", path, wantPath)
	}
}

func TestWorker_FailureKeepsExitCode(t *testing.T) {
	fake := runnertest.New()
	fake.Script("cargo ndk --target aarch64-linux-android build -p squalr-cli -v", runnertest.Result(101, "error[E0425]"))
	_, err := newBuilder(fake).Worker(context.Background(), Debug)

	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *build.Error", err)
	}
	if be.ExitCode != 101 {
		t.Errorf("ExitCode = %d, want 101", be.ExitCode)
	}
}

func TestAPK(t *testing.T) {
	tests := []struct {
		name          string
		preferRelease bool
		release       *scripted
		debugCode     int
		wantProfile   Profile
		wantCalls     []string
		wantErr       string
	}{
		{
			name:        "debug only",
			wantProfile: Debug,
			wantCalls:   []string{debugAPK},
		},
		{
			name:          "release succeeds",
			preferRelease: true,
			release:       &scripted{0, ""},
			wantProfile:   Release,
			wantCalls:     []string{releaseAPK},
		},
		{
			name:          "release unsigned falls back",
			preferRelease: true,
			release:       &scripted{1, "Error: Configure a release keystore in Cargo.toml"},
			wantProfile:   Debug,
			wantCalls:     []string{releaseAPK, debugAPK},
		},
		{
			name:          "release fails otherwise",
			preferRelease: true,
			release:       &scripted{1, "error: linker `cc` not found"},
			wantCalls:     []string{releaseAPK},
			wantErr:       "other than signing",
		},
		{
			name:          "fallback debug fails",
			preferRelease: true,
			release:       &scripted{1, "Configure a release keystore"},
			debugCode:     2,
			wantCalls:     []string{releaseAPK, debugAPK},
			wantErr:       "debug APK",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := runnertest.New()
			if tt.release != nil {
				fake.Script(releaseAPK, runnertest.Result(tt.release.code, tt.release.output))
			}
			fake.Script(debugAPK, runnertest.Result(tt.debugCode, ""))

			got, err := newBuilder(fake).APK(context.Background(), tt.preferRelease)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("APK: %v", err)
			}
			if got != tt.wantProfile {
				t.Errorf("profile = %q, want %q", got, tt.wantProfile)
			}
			if calls := fake.Calls(); !reflect.DeepEqual(calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
			}
		})
	}
}

type scripted struct {
	code   int
	output string
}

func TestAPKCandidates(t *testing.T) {
	b := newBuilder(nil)
	got := b.APKCandidates(Debug)
	want := []string{
		filepath.Join("/src/squalr", "target", "aarch64-linux-android", "debug", "apk", "squalr.apk"),
		filepath.Join("/src/squalr", "target", "debug", "apk", "squalr.apk"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("APKCandidates = %v, want %v", got, want)
	}
}
