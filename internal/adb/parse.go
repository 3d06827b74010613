package adb

import (
	"strconv"
	"strings"
)

// The functions in this file are the only places that interpret the
// unstructured text printed by adb and the device-side tools. Each one
// documents the output shape it relies on.

// DeviceInfo is one entry of `adb devices`.
type DeviceInfo struct {
	Serial string
	State  string // "device", "offline", "unauthorized", ...
}

// Attached reports whether the device is online and authorised.
func (d DeviceInfo) Attached() bool {
	return d.State == "device"
}

// ParseDevices extracts device entries from `adb devices` output.
//
// Assumes a header line ("List of devices attached") followed by one
// "<serial>\t<state>" line per device. Daemon start-up chatter
// ("* daemon started successfully") is skipped.
func ParseDevices(output string) []DeviceInfo {
	var devices []DeviceInfo
	for _, line := range nonEmptyLines(output) {
		if strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		serial, state, ok := strings.Cut(line, "\t")
		if !ok {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			serial, state = fields[0], fields[1]
		}
		devices = append(devices, DeviceInfo{
			Serial: strings.TrimSpace(serial),
			State:  strings.TrimSpace(state),
		})
	}
	return devices
}

// AttachedSerials returns the serials of devices in the "device" state.
func AttachedSerials(devices []DeviceInfo) []string {
	var out []string
	for _, d := range devices {
		if d.Attached() {
			out = append(out, d.Serial)
		}
	}
	return out
}

// LastLine returns the last non-empty line of output, trimmed.
func LastLine(output string) string {
	lines := nonEmptyLines(output)
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

// noActivityFound is printed by `cmd package resolve-activity` when
// nothing matches the intent.
const noActivityFound = "No activity found"

// ParseResolvedComponent extracts the launcher component from
// `cmd package resolve-activity --brief` output.
//
// Assumes the component ("<package>/<activity>") is the last non-empty
// line. Returns false when nothing resolved or when the component
// belongs to a different package.
func ParseResolvedComponent(output, pkg string) (string, bool) {
	last := LastLine(output)
	if last == "" || last == noActivityFound {
		return "", false
	}
	if !strings.Contains(last, "/") {
		return "", false
	}
	if !strings.HasPrefix(last, pkg+"/") {
		return "", false
	}
	return last, true
}

// StartFailed reports whether `am start` output describes a failure.
//
// Assumes failures are printed as lines beginning with "Error" (for
// example "Error: Activity class {...} does not exist." followed by
// "Error type 3"). Some Android releases exit zero in that case, so the
// exit code alone is not enough.
func StartFailed(output string) bool {
	for _, line := range nonEmptyLines(output) {
		if strings.HasPrefix(line, "Error") {
			return true
		}
	}
	return false
}

// ParsePIDs extracts process ids from `pidof` output, which prints
// zero or more space-separated decimal ids on one line. Anything that
// is not a positive integer (e.g. su banners) is ignored.
func ParsePIDs(output string) []int {
	var pids []int
	for _, f := range strings.Fields(output) {
		n, err := strconv.Atoi(f)
		if err != nil || n <= 0 {
			continue
		}
		pids = append(pids, n)
	}
	return pids
}

// LinesContaining returns the trimmed lines of output that contain every
// one of substrs, in order of appearance.
func LinesContaining(output string, substrs ...string) []string {
	var out []string
	for _, line := range nonEmptyLines(output) {
		match := true
		for _, s := range substrs {
			if !strings.Contains(line, s) {
				match = false
				break
			}
		}
		if match {
			out = append(out, line)
		}
	}
	return out
}

// ContainsWord reports whether word appears as a whitespace-separated
// token of output (e.g. a target triple in `rustup target list`).
func ContainsWord(output, word string) bool {
	for _, f := range strings.Fields(output) {
		if f == word {
			return true
		}
	}
	return false
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
