package adb

import (
	"reflect"
	"testing"
)

func TestParseDevices(t *testing.T) {
	out := "* daemon not running; starting now at tcp:5037\n" +
		"* daemon started successfully\n" +
		"List of devices attached\n" +
		"emulator-5554\tdevice\n" +
		"R58M123ABC\tunauthorized\n" +
		"\n"
	got := ParseDevices(out)
	want := []DeviceInfo{
		{Serial: "emulator-5554", State: "device"},
		{Serial: "R58M123ABC", State: "unauthorized"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseDevices = %+v, want %+v", got, want)
	}
	if s := AttachedSerials(got); !reflect.DeepEqual(s, []string{"emulator-5554"}) {
		t.Errorf("AttachedSerials = %v, want [emulator-5554]", s)
	}
}

func TestParseDevices_Empty(t *testing.T) {
	if got := ParseDevices("List of devices attached\n\n"); len(got) != 0 {
		t.Errorf("ParseDevices = %+v, want none", got)
	}
}

func TestParseResolvedComponent(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
		ok     bool
	}{
		{"brief", "priority=0 preferredOrder=0\ncom.squalr.android/android.app.NativeActivity\n", "com.squalr.android/android.app.NativeActivity", true},
		{"none", "No activity found\n", "", false},
		{"empty", "\n\n", "", false},
		{"no slash", "com.squalr.android\n", "", false},
		{"foreign package", "com.other/android.app.NativeActivity\n", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseResolvedComponent(tt.output, "com.squalr.android")
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseResolvedComponent = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParsePIDs(t *testing.T) {
	if got := ParsePIDs("1234 5678\n"); !reflect.DeepEqual(got, []int{1234, 5678}) {
		t.Errorf("ParsePIDs = %v, want [1234 5678]", got)
	}
	if got := ParsePIDs("\n"); got != nil {
		t.Errorf("ParsePIDs(empty) = %v, want nil", got)
	}
	if got := ParsePIDs("su: not found\n"); got != nil {
		t.Errorf("ParsePIDs(banner) = %v, want nil", got)
	}
}

func TestLinesContaining(t *testing.T) {
	out := "  ActivityRecord{1 com.squalr.android} reportedDrawn=false\n" +
		"  ActivityRecord{2 com.other} reportedDrawn=true\n" +
		"  ActivityRecord{3 com.squalr.android} reportedDrawn=true\n"
	got := LinesContaining(out, "com.squalr.android", "reportedDrawn=")
	want := []string{
		"ActivityRecord{1 com.squalr.android} reportedDrawn=false",
		"ActivityRecord{3 com.squalr.android} reportedDrawn=true",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LinesContaining = %q, want %q", got, want)
	}
}

func TestLastLineAndContainsWord(t *testing.T) {
	if got := LastLine("a\n b \n\n"); got != "b" {
		t.Errorf("LastLine = %q, want b", got)
	}
	if !ContainsWord("aarch64-linux-android\nx86_64-unknown-linux-gnu\n", "aarch64-linux-android") {
		t.Error("ContainsWord = false, want true")
	}
	if ContainsWord("aarch64-linux-androideabi\n", "aarch64-linux-android") {
		t.Error("ContainsWord matched a prefix")
	}
}

func TestStartFailed(t *testing.T) {
	tests := []struct {
		output string
		want   bool
	}{
		{"Starting: Intent { cmp=com.squalr.android/android.app.NativeActivity }\n", false},
		{"Starting: Intent { cmp=com.squalr.android/.Main }\nError type 3\nError: Activity class {com.squalr.android/com.squalr.android.Main} does not exist.\n", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := StartFailed(tt.output); got != tt.want {
			t.Errorf("StartFailed(%q) = %v, want %v", tt.output, got, tt.want)
		}
	}
}
