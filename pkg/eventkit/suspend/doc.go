// Package suspend implements correlation-based request/response on top
// of a transport: a producer arms a suspension, publishes its request,
// and awaits one correlated response or a timeout.
//
// # State machine
//
// Each correlation id moves through one transient state, pending, and
// exactly one of three terminal outcomes: resolved, timed-out, or
// cancelled. Cleanup is idempotent - when a response and the timeout
// race, whichever settles first wins and the loser is a no-op.
//
// # Ordering contract
//
// The manager does not publish the request event. Arm the listener
// first, then publish:
//
//	s, err := mgr.SuspendForResponse(req, "reminder.triggered", req.ID())
//	if err != nil {
//	    return err
//	}
//	if err := bus.Publish(ctx, req); err != nil {
//	    mgr.Cancel(req.ID())
//	    return err
//	}
//	result, err := s.Await(ctx)
//
// Publishing before arming opens a window in which the response can
// arrive with nobody listening.
//
// # Correlation
//
// By default the correlation id of a candidate response is its
// aggregate id, falling back to its event id. Since every suspension
// for a response type sees every message of that type, mismatched ids
// are rejected cheaply with no side effects.
package suspend
