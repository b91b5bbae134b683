package dispatch

import (
	"context"
	"errors"
	"time"

	"ridehail/internal/metrics"
	"ridehail/internal/modules/ride"
	"ridehail/internal/modules/waitreg"
	"ridehail/internal/types"
)

// WaitForRide long-polls for the next ride offered to driverID. A timeout
// returns (nil, false, nil). Drivers may poll while unavailable but are only
// offered rides once available.
func (e *Engine) WaitForRide(ctx context.Context, driverID types.ID) (*ride.Ride, bool, error) {
	h, err := e.beginWait(e.drivers, actorCaptain, driverID)
	if err != nil {
		return nil, false, err
	}
	return e.wait(ctx, h, actorCaptain)
}

// WaitForAcceptedRide long-polls until one of riderID's rides is accepted or
// cancelled while pending. With a rideID only that ride is reported: wake-ups for
// the rider's other rides re-arm the wait on the remaining deadline. The ride is
// checked after every registration, so an accept that landed before the wait
// started is still reported.
func (e *Engine) WaitForAcceptedRide(ctx context.Context, riderID, rideID types.ID) (*ride.Ride, bool, error) {
	deadline := time.Now().Add(e.pollTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			e.metrics.RecordPoll(actorUser, metrics.OutcomeTimeout)
			return nil, false, nil
		}
		h, err := e.beginWaitFor(e.riders, actorUser, riderID, remaining)
		if err != nil {
			return nil, false, err
		}
		if rideID == "" {
			return e.wait(ctx, h, actorUser)
		}

		r, err := e.rides.Get(ctx, rideID)
		if err == nil && r.RiderID != riderID {
			err = ErrForbidden
		}
		switch {
		case err != nil:
			if h.Cancel() {
				return nil, false, err
			}
		case r.Status != ride.StatusPending:
			if h.Cancel() {
				e.metrics.RecordPoll(actorUser, metrics.OutcomeDelivered)
				return r, true, nil
			}
		}

		// Either still pending, or something finished the slot between
		// registration and lookup and its outcome is buffered.
		got, delivered, err := e.await(ctx, h)
		if delivered && got.ID != rideID {
			e.log.Action("long_poll").Debug("skipped update for another ride",
				"actor_id", riderID, "ride_id", got.ID, "want", rideID)
			continue
		}
		e.recordOutcome(actorUser, h.ActorID(), got, delivered, err)
		return got, delivered, err
	}
}

func (e *Engine) beginWait(reg *waitreg.Registry[*ride.Ride], actor string, id types.ID) (*waitreg.Handle[*ride.Ride], error) {
	return e.beginWaitFor(reg, actor, id, e.pollTimeout)
}

func (e *Engine) beginWaitFor(reg *waitreg.Registry[*ride.Ride], actor string, id types.ID, timeout time.Duration) (*waitreg.Handle[*ride.Ride], error) {
	if id == "" {
		return nil, ride.ErrValidation
	}
	h, err := reg.BeginWait(string(id), timeout)
	if err != nil {
		if errors.Is(err, waitreg.ErrConflictingWait) {
			e.metrics.RecordPoll(actor, metrics.OutcomeRejected)
		}
		return nil, err
	}
	return h, nil
}

func (e *Engine) wait(ctx context.Context, h *waitreg.Handle[*ride.Ride], actor string) (*ride.Ride, bool, error) {
	e.metrics.PollStarted(actor)
	r, delivered, err := h.Wait(ctx)
	e.metrics.PollFinished(actor)
	e.recordOutcome(actor, h.ActorID(), r, delivered, err)
	return r, delivered, err
}

// await blocks on h like wait but leaves the outcome unrecorded.
func (e *Engine) await(ctx context.Context, h *waitreg.Handle[*ride.Ride]) (*ride.Ride, bool, error) {
	e.metrics.PollStarted(actorUser)
	defer e.metrics.PollFinished(actorUser)
	return h.Wait(ctx)
}

func (e *Engine) recordOutcome(actor, actorID string, r *ride.Ride, delivered bool, err error) {
	log := e.log.Action("long_poll").With("actor", actor, "actor_id", actorID)
	switch {
	case delivered:
		e.metrics.RecordPoll(actor, metrics.OutcomeDelivered)
		log.Debug("poll delivered", "ride_id", r.ID)
	case err == nil:
		e.metrics.RecordPoll(actor, metrics.OutcomeTimeout)
		log.Debug("poll timed out")
	case errors.Is(err, waitreg.ErrSuperseded):
		e.metrics.RecordPoll(actor, metrics.OutcomeSuperseded)
		log.Debug("poll superseded")
	default:
		e.metrics.RecordPoll(actor, metrics.OutcomeCancelled)
		log.Debug("poll cancelled", "reason", err.Error())
	}
}
