package registry

import "fmt"

// DuplicateToolError reports a second registration under an existing
// name. Matched with errors.As.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q already registered", e.Name)
}

// UnknownToolError reports a lookup for a name that was never
// registered. The router treats a model proposing an unknown tool as a
// recoverable failure; everywhere else this is a programming error.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}
