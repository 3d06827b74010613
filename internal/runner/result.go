package runner

// Result holds the output of a command execution.
type Result struct {
	RunID     string // unique identifier for this run
	ExitCode  int    // process exit code
	Output    []byte // captured combined stdout+stderr (may be truncated)
	Truncated bool   // true if output exceeded the size cap
}

// Text returns the captured output as a string.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Output)
}

// OK reports whether the command exited with status zero.
func (r *Result) OK() bool {
	return r != nil && r.ExitCode == 0
}
