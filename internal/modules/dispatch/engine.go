// README: Dispatch engine: ride creation fan-out, accept race arbitration and long-poll wake-ups.
package dispatch

import (
	"context"
	"errors"
	"time"

	"ridehail/internal/events"
	"ridehail/internal/logger"
	"ridehail/internal/metrics"
	"ridehail/internal/modules/captain"
	"ridehail/internal/modules/ride"
	"ridehail/internal/modules/waitreg"
	"ridehail/internal/types"
)

var (
	ErrAlreadyTaken = errors.New("ride already taken")
	ErrForbidden    = errors.New("not a participant of this ride")
)

const (
	actorCaptain = "captain"
	actorUser    = "user"
)

type CreateCommand struct {
	RiderID     types.ID
	Pickup      string
	Destination string
}

type AcceptCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type CompleteCommand struct {
	RideID   types.ID
	DriverID types.ID
}

type CancelCommand struct {
	RideID  types.ID
	ActorID types.ID
	Role    types.Role
	Reason  string
}

type Deps struct {
	Rides    ride.Store
	Captains captain.Store
	// Drivers and Riders are the long-poll registries. They are owned by the
	// caller so one pair can back every handler in the process.
	Drivers     *waitreg.Registry[*ride.Ride]
	Riders      *waitreg.Registry[*ride.Ride]
	Events      events.Publisher
	Metrics     *metrics.Collector
	Log         logger.Logger
	PollTimeout time.Duration
}

type Engine struct {
	rides       ride.Store
	captains    captain.Store
	drivers     *waitreg.Registry[*ride.Ride]
	riders      *waitreg.Registry[*ride.Ride]
	events      events.Publisher
	metrics     *metrics.Collector
	log         logger.Logger
	pollTimeout time.Duration
}

func NewEngine(d Deps) *Engine {
	e := &Engine{
		rides:       d.Rides,
		captains:    d.Captains,
		drivers:     d.Drivers,
		riders:      d.Riders,
		events:      d.Events,
		metrics:     d.Metrics,
		log:         d.Log,
		pollTimeout: d.PollTimeout,
	}
	if e.drivers == nil {
		e.drivers = waitreg.New[*ride.Ride](waitreg.PolicySupersede)
	}
	if e.riders == nil {
		e.riders = waitreg.New[*ride.Ride](waitreg.PolicySupersede)
	}
	if e.events == nil {
		e.events = events.Nop()
	}
	if e.metrics == nil {
		e.metrics = metrics.NewCollector()
	}
	if e.log == nil {
		e.log = logger.Nop()
	}
	if e.pollTimeout <= 0 {
		e.pollTimeout = 30 * time.Second
	}
	return e
}

// CreateRide stores a pending ride and offers it to every driver that is
// long-polling and available right now. Drivers that are not polling miss it.
func (e *Engine) CreateRide(ctx context.Context, cmd CreateCommand) (*ride.Ride, error) {
	r, err := e.rides.Create(ctx, cmd.RiderID, cmd.Pickup, cmd.Destination)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordRideCreated()
	e.log.Action("create_ride").Info("ride created", "ride_id", r.ID, "rider_id", r.RiderID)
	e.publish(ctx, events.RideCreated, r)

	n := e.broadcast(ctx, r)
	e.metrics.RecordBroadcast(n)
	return r, nil
}

func (e *Engine) broadcast(ctx context.Context, r *ride.Ride) int {
	log := e.log.Action("broadcast")
	waiting := e.drivers.Waiting()
	if len(waiting) == 0 {
		return 0
	}
	ids := make([]types.ID, len(waiting))
	for i, w := range waiting {
		ids[i] = types.ID(w)
	}
	available, err := e.captains.AvailableAmong(ctx, ids)
	if err != nil {
		log.Error("availability lookup failed; ride not offered", err, "ride_id", r.ID)
		return 0
	}
	delivered := 0
	for _, id := range available {
		if e.drivers.Resolve(string(id), r.Clone()) {
			delivered++
		}
	}
	log.Debug("ride offered", "ride_id", r.ID, "waiting", len(waiting), "delivered", delivered)
	return delivered
}

// AcceptRide binds the driver to a pending ride. The store's compare-and-swap
// is the only arbiter; losers get ErrAlreadyTaken and are never retried.
func (e *Engine) AcceptRide(ctx context.Context, cmd AcceptCommand) (*ride.Ride, error) {
	log := e.log.Action("accept_ride").With("ride_id", cmd.RideID, "driver_id", cmd.DriverID)
	if cmd.DriverID == "" {
		return nil, ride.ErrValidation
	}
	r, err := e.rides.TryTransition(ctx, cmd.RideID, ride.StatusPending, ride.AssignDriver(cmd.DriverID))
	switch {
	case err == nil:
	case errors.Is(err, ride.ErrStaleState):
		e.metrics.RecordAccept(metrics.AcceptTaken)
		log.Info("accept lost race")
		return nil, ErrAlreadyTaken
	case errors.Is(err, ride.ErrNotFound):
		e.metrics.RecordAccept(metrics.AcceptNotFound)
		return nil, err
	default:
		e.metrics.RecordAccept(metrics.AcceptError)
		log.Error("accept failed", err)
		return nil, err
	}

	e.metrics.RecordAccept(metrics.AcceptWon)
	e.metrics.RecordTransition(string(ride.StatusAccepted))
	log.Info("ride accepted")
	e.publish(ctx, events.RideAccepted, r)

	if !e.riders.Resolve(string(r.RiderID), r.Clone()) {
		log.Debug("rider not polling; accepted ride available via lookup", "rider_id", r.RiderID)
	}
	return r, nil
}

func (e *Engine) CompleteRide(ctx context.Context, cmd CompleteCommand) (*ride.Ride, error) {
	cur, err := e.rides.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if cur.DriverID == nil || *cur.DriverID != cmd.DriverID {
		return nil, ErrForbidden
	}
	r, err := e.rides.TryTransition(ctx, cmd.RideID, ride.StatusAccepted, ride.MarkCompleted())
	if err != nil {
		return nil, err
	}
	e.metrics.RecordTransition(string(ride.StatusCompleted))
	e.log.Action("complete_ride").Info("ride completed", "ride_id", r.ID, "driver_id", cmd.DriverID)
	e.publish(ctx, events.RideCompleted, r)
	return r, nil
}

// CancelRide lets the rider or the bound driver cancel a ride that has not
// finished yet. Cancelling a pending ride wakes the rider's accepted-ride poll.
func (e *Engine) CancelRide(ctx context.Context, cmd CancelCommand) (*ride.Ride, error) {
	cur, err := e.rides.Get(ctx, cmd.RideID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(cur, cmd.ActorID, cmd.Role) {
		return nil, ErrForbidden
	}
	if cur.Status.Terminal() {
		return nil, ride.ErrInvalidTransition
	}
	r, err := e.rides.TryTransition(ctx, cmd.RideID, cur.Status, ride.MarkCancelled(cmd.Reason))
	if err != nil {
		return nil, err
	}
	e.metrics.RecordTransition(string(ride.StatusCancelled))
	e.log.Action("cancel_ride").Info("ride cancelled", "ride_id", r.ID, "by", cmd.Role, "previous", cur.Status)
	e.publish(ctx, events.RideCancelled, r)

	// A rider waiting for acceptance would otherwise sit out the full poll.
	if cur.Status == ride.StatusPending {
		e.riders.Resolve(string(r.RiderID), r.Clone())
	}
	return r, nil
}

// GetRide returns a ride to its rider, its bound driver, or any driver while
// it is still pending.
func (e *Engine) GetRide(ctx context.Context, id, actorID types.ID, role types.Role) (*ride.Ride, error) {
	r, err := e.rides.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if isParticipant(r, actorID, role) {
		return r, nil
	}
	if role == types.RoleCaptain && r.Status == ride.StatusPending {
		return r, nil
	}
	return nil, ErrForbidden
}

func (e *Engine) ToggleAvailability(ctx context.Context, driverID types.ID) (bool, error) {
	available, err := e.captains.Toggle(ctx, driverID)
	if err != nil {
		return false, err
	}
	e.log.Action("toggle_availability").Info("availability changed", "driver_id", driverID, "available", available)
	return available, nil
}

func (e *Engine) IsAvailable(ctx context.Context, driverID types.ID) (bool, error) {
	return e.captains.IsAvailable(ctx, driverID)
}

func isParticipant(r *ride.Ride, actorID types.ID, role types.Role) bool {
	switch role {
	case types.RoleUser:
		return r.RiderID == actorID
	case types.RoleCaptain:
		return r.DriverID != nil && *r.DriverID == actorID
	}
	return false
}

func (e *Engine) publish(ctx context.Context, key string, r *ride.Ride) {
	if err := e.events.Publish(ctx, key, r); err != nil {
		e.log.Action("publish").Warn("event not published", "event", key, "ride_id", r.ID, "error", err.Error())
	}
}
