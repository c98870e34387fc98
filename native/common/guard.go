package common

import (
	"errors"
	"fmt"
)

// ErrModulePaused is returned by entry points of a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the per-module pause switches.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused when any of modules is paused. A nil view
// disables the check.
func Guard(p PauseView, modules ...string) error {
	if p == nil {
		return nil
	}
	for _, module := range modules {
		if module != "" && p.IsPaused(module) {
			return fmt.Errorf("%w: %s", ErrModulePaused, module)
		}
	}
	return nil
}
