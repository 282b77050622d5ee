package engine

import (
	"context"

	"github.com/casepilot/casepilot/pkg/logging"
	"github.com/casepilot/casepilot/pkg/retry"
	"github.com/casepilot/casepilot/pkg/types"
)

// Supervisor is the layered recovery wrapper around one item's visit:
//
//	tier 1 — bounded micro-polling, owned by Pager/Locator/visit waits;
//	tier 2 — bounded page-refresh retries of the whole item;
//	tier 3 — bounded full session restarts with re-authentication.
//
// Terminal error classes bypass every tier. A session-lost failure skips
// the remaining refresh budget and escalates straight to a restart.
type Supervisor struct {
	control SessionControl

	// RefreshPolicy bounds tier 2, RestartPolicy tier 3.
	RefreshPolicy retry.Policy
	RestartPolicy retry.Policy

	log    *logging.Logger
	notify func(types.ProgressEvent)
}

// NewSupervisor creates a supervisor with the default tier budgets.
func NewSupervisor(control SessionControl, log *logging.Logger, notify func(types.ProgressEvent)) *Supervisor {
	if notify == nil {
		notify = func(types.ProgressEvent) {}
	}
	return &Supervisor{
		control:       control,
		RefreshPolicy: retry.ItemRefresh,
		RestartPolicy: retry.SessionRestart,
		log:           log,
		notify:        notify,
	}
}

// ProcessItem runs attempt under the full recovery ladder. It returns nil
// on success, the terminal error when one occurs, or the last error once
// every budget is exhausted. Exhaustion never panics outward: the caller
// marks the item failed and the run proceeds.
func (s *Supervisor) ProcessItem(ctx context.Context, item *Item, attempt func(ctx context.Context) error) error {
	var lastErr error

	for restart := 0; restart <= s.RestartPolicy.Attempts; restart++ {
		err := s.refreshTier(ctx, item, attempt)
		if err == nil {
			return nil
		}
		if retry.IsTerminal(err) {
			return err
		}
		// A canceled run is not a session failure; restarting would fight
		// the operator.
		if ctx.Err() != nil {
			return err
		}
		lastErr = err

		if restart == s.RestartPolicy.Attempts {
			break
		}

		s.log.Warnf("item %s: in-session recovery exhausted (%v), restarting session (%d/%d)",
			item.Key, err, restart+1, s.RestartPolicy.Attempts)
		s.notify(types.NewItemEvent(types.EventTypeSessionLost, item.Key, item.Name))

		if restartErr := s.control.Restart(ctx); restartErr != nil {
			s.log.Errorf("item %s: session restart failed: %v", item.Key, restartErr)
			lastErr = restartErr
			continue
		}
		s.notify(types.NewItemEvent(types.EventTypeSessionRedone, item.Key, item.Name))
	}

	return retry.Wrap(retry.Classify(lastErr), lastErr, "recovery budget exhausted")
}

// refreshTier retries attempt with page refreshes in between. The first
// attempt runs without a refresh. Session-lost failures abort the tier so
// the caller can escalate.
func (s *Supervisor) refreshTier(ctx context.Context, item *Item, attempt func(ctx context.Context) error) error {
	var lastErr error

	for try := 0; try < s.RefreshPolicy.Attempts; try++ {
		if err := ctx.Err(); err != nil {
			return retry.Wrap(retry.ClassTimeout, err, "item retries canceled")
		}

		if try > 0 {
			s.log.Infof("item %s: refresh retry %d/%d after %v", item.Key, try, s.RefreshPolicy.Attempts-1, lastErr)
			s.notify(types.NewItemEvent(types.EventTypeItemRetry, item.Key, item.Name))
			if err := s.control.Refresh(ctx); err != nil {
				if retry.IsSessionLost(err) {
					return err
				}
				lastErr = err
				continue
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if retry.IsTerminal(lastErr) || retry.IsSessionLost(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
