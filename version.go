// Package droidship builds, installs, launches and health-checks a
// privileged native worker on an Android device over adb.
package droidship

// Version is the droidship release version.
const Version = "0.3.0"
