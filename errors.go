package rowan

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrEmptyDocumentSet flags write verbs invoked with nothing to write.
var ErrEmptyDocumentSet = errors.New("no documents provided")

// IsEmptyDocumentSet reports whether err came from a write verb called
// without documents.
func IsEmptyDocumentSet(err error) bool {
	return errors.Cause(err) == ErrEmptyDocumentSet
}

// CommandError is a failure reported by the server in a command reply
// rather than by the transport.
type CommandError struct {
	Command string
	Code    int
	Message string
}

func (e *CommandError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("command %s failed with code %d: %s", e.Command, e.Code, e.Message)
	}
	return fmt.Sprintf("command %s failed: %s", e.Command, e.Message)
}

// GroupError marks group command failures, which callers historically
// handle apart from other command failures.
type GroupError struct {
	CommandError
}

// IsCommandFailed reports whether err is a server-reported command
// failure of any flavor.
func IsCommandFailed(err error) bool {
	switch errors.Cause(err).(type) {
	case *CommandError, *GroupError:
		return true
	}
	return false
}

// IsGroupFailed reports whether err is a failed group command.
func IsGroupFailed(err error) bool {
	_, ok := errors.Cause(err).(*GroupError)
	return ok
}
