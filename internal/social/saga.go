package social

import (
	"fmt"
	"log/slog"
)

// step is one unit of a multi-slice action. compensate undoes apply and
// must be safe to run even if the state moved on; best-effort side effects
// (push, toasts) carry no compensation and run last.
type step struct {
	name       string
	apply      func() error
	compensate func()
}

// runSteps applies steps in order. On failure the already-applied steps are
// compensated in reverse and the failing step's error is returned, so a
// half-applied action never survives.
func runSteps(log *slog.Logger, action string, steps []step) error {
	applied := make([]step, 0, len(steps))
	for _, st := range steps {
		if err := st.apply(); err != nil {
			for i := len(applied) - 1; i >= 0; i-- {
				if applied[i].compensate == nil {
					continue
				}
				log.Warn("rolling back step", "action", action, "step", applied[i].name)
				applied[i].compensate()
			}
			return fmt.Errorf("%s: %s: %w", action, st.name, err)
		}
		applied = append(applied, st)
	}
	return nil
}
