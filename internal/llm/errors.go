package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFatalAPI marks provider errors that will not succeed on any retry
// (billing, auth, invalid credentials). Batch runners stop the whole job
// on these instead of burning through every remaining item.
var ErrFatalAPI = errors.New("fatal API error")

var fatalMarkers = []string{
	"credit balance",
	"billing",
	"invalid api key",
	"invalid x-api-key",
	"authentication",
	"unauthorized",
	"quota exceeded",
}

// classifyError wraps provider errors that indicate account-level problems
// with ErrFatalAPI. Other errors pass through unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", ErrFatalAPI, err)
		}
	}
	return err
}
