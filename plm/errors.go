package plm

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth means no session could be established. Fatal to the run.
	ErrAuth = errors.New("login failed")
	// ErrContainer means the destination folder could not be created. Fatal to the run.
	ErrContainer = errors.New("container creation failed")
	// ErrCreate is local to one node; its subtree is abandoned.
	ErrCreate = errors.New("item creation failed")
	// ErrLink means a created node could not be attached to its parent line.
	ErrLink = errors.New("structure link failed")
	// ErrWindow covers structure window open, save and close failures.
	ErrWindow = errors.New("structure window failed")
	// ErrRunInProgress is returned when Run is called while another run is active.
	ErrRunInProgress = errors.New("materialization already in progress")
)

// wrap returns err tagged with kind. A nil err yields kind with detail.
func wrap(kind error, err error, detail string) error {
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", kind, detail)
	case errors.Is(err, kind):
		return err
	default:
		return fmt.Errorf("%w: %w", kind, err)
	}
}
