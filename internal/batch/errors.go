package batch

import "fmt"

// InputError means the run could not start: nothing was generated.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return "input: " + e.Err.Error() }
func (e *InputError) Unwrap() error { return e.Err }

// AttendeeError is the failure of one row. The rest of the batch is
// unaffected.
type AttendeeError struct {
	Row  int
	Name string
	Err  error
}

func (e *AttendeeError) Error() string {
	return fmt.Sprintf("row %d (%q): %v", e.Row, e.Name, e.Err)
}

func (e *AttendeeError) Unwrap() error { return e.Err }

// PackagingError is a failure after generation: bundling, signing,
// publishing or saving the report. Documents already written stay on disk.
type PackagingError struct {
	Op  string
	Err error
}

func (e *PackagingError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *PackagingError) Unwrap() error { return e.Err }
