package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridehail/internal/metrics"
	"ridehail/internal/modules/captain"
	"ridehail/internal/modules/ride"
	"ridehail/internal/modules/waitreg"
	"ridehail/internal/types"
)

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type fixture struct {
	engine   *Engine
	captains *captain.MemoryStore
	events   *recordingPublisher
	metrics  *metrics.Collector
}

func newFixture(t *testing.T, pollTimeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		captains: captain.NewMemoryStore(),
		events:   &recordingPublisher{},
		metrics:  metrics.NewCollector(),
	}
	f.engine = NewEngine(Deps{
		Rides:       ride.NewMemoryStore(),
		Captains:    f.captains,
		Drivers:     waitreg.New[*ride.Ride](waitreg.PolicySupersede),
		Riders:      waitreg.New[*ride.Ride](waitreg.PolicySupersede),
		Events:      f.events,
		Metrics:     f.metrics,
		PollTimeout: pollTimeout,
	})
	return f
}

func (f *fixture) available(t *testing.T, ids ...types.ID) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, f.captains.SetAvailable(context.Background(), id, true))
	}
}

type pollResult struct {
	ride      *ride.Ride
	delivered bool
	err       error
}

func (f *fixture) pollDriver(ctx context.Context, id types.ID) <-chan pollResult {
	out := make(chan pollResult, 1)
	go func() {
		r, ok, err := f.engine.WaitForRide(ctx, id)
		out <- pollResult{r, ok, err}
	}()
	return out
}

func (f *fixture) pollRider(ctx context.Context, riderID, rideID types.ID) <-chan pollResult {
	out := make(chan pollResult, 1)
	go func() {
		r, ok, err := f.engine.WaitForAcceptedRide(ctx, riderID, rideID)
		out <- pollResult{r, ok, err}
	}()
	return out
}

func waitForPollers(t *testing.T, reg *waitreg.Registry[*ride.Ride], n int) {
	t.Helper()
	require.Eventually(t, func() bool { return reg.Len() == n }, time.Second, time.Millisecond)
}

func receive(t *testing.T, ch <-chan pollResult) pollResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not return")
		return pollResult{}
	}
}

func TestCreateRideReturnsPending(t *testing.T) {
	f := newFixture(t, time.Second)

	r, err := f.engine.CreateRide(context.Background(), CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)
	assert.Equal(t, ride.StatusPending, r.Status)
	assert.Nil(t, r.DriverID)
	assert.Equal(t, types.ID("rider-1"), r.RiderID)
	assert.Equal(t, []string{"ride.created"}, f.events.Keys())

	stored, err := f.engine.GetRide(context.Background(), r.ID, "rider-1", types.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, r.ID, stored.ID)
}

func TestCreateRideValidation(t *testing.T) {
	f := newFixture(t, time.Second)
	_, err := f.engine.CreateRide(context.Background(), CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: " "})
	assert.ErrorIs(t, err, ride.ErrValidation)
	assert.Empty(t, f.events.Keys())
}

func TestDriverPollTimesOutWithoutRide(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	f.available(t, "driver-1")

	start := time.Now()
	r, delivered, err := f.engine.WaitForRide(context.Background(), "driver-1")
	require.NoError(t, err, "timeout is not an error")
	assert.False(t, delivered)
	assert.Nil(t, r)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, f.engine.drivers.Len())
}

func TestBroadcastAcceptRace(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	f.available(t, "driver-1", "driver-2")
	ctx := context.Background()

	d1 := f.pollDriver(ctx, "driver-1")
	d2 := f.pollDriver(ctx, "driver-2")
	waitForPollers(t, f.engine.drivers, 2)

	created, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)
	rider := f.pollRider(ctx, "rider-1", "")
	waitForPollers(t, f.engine.riders, 1)

	for _, ch := range []<-chan pollResult{d1, d2} {
		res := receive(t, ch)
		require.NoError(t, res.err)
		require.True(t, res.delivered)
		assert.Equal(t, created.ID, res.ride.ID)
		assert.Equal(t, ride.StatusPending, res.ride.Status)
	}

	won, err := f.engine.AcceptRide(ctx, AcceptCommand{RideID: created.ID, DriverID: "driver-1"})
	require.NoError(t, err)
	assert.Equal(t, ride.StatusAccepted, won.Status)
	require.NotNil(t, won.DriverID)
	assert.Equal(t, types.ID("driver-1"), *won.DriverID)

	_, err = f.engine.AcceptRide(ctx, AcceptCommand{RideID: created.ID, DriverID: "driver-2"})
	assert.ErrorIs(t, err, ErrAlreadyTaken)

	res := receive(t, rider)
	require.NoError(t, res.err)
	require.True(t, res.delivered)
	assert.Equal(t, ride.StatusAccepted, res.ride.Status)
	require.NotNil(t, res.ride.DriverID)
	assert.Equal(t, types.ID("driver-1"), *res.ride.DriverID)

	assert.Equal(t, []string{"ride.created", "ride.accepted"}, f.events.Keys())
	expected := `
# HELP ridehail_ride_accepts_total Driver accept attempts by outcome.
# TYPE ridehail_ride_accepts_total counter
ridehail_ride_accepts_total{outcome="taken"} 1
ridehail_ride_accepts_total{outcome="won"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(expected), "ridehail_ride_accepts_total"))
}

func TestAcceptUnknownRide(t *testing.T) {
	f := newFixture(t, time.Second)
	_, err := f.engine.AcceptRide(context.Background(), AcceptCommand{RideID: types.NewID(), DriverID: "driver-1"})
	assert.ErrorIs(t, err, ride.ErrNotFound)
}

func TestConcurrentAcceptsOneWinner(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	created, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)

	const drivers = 20
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make(chan error, drivers)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			<-start
			_, err := f.engine.AcceptRide(ctx, AcceptCommand{RideID: created.ID, DriverID: id})
			results <- err
		}(types.ID(fmt.Sprintf("driver-%d", i)))
	}
	close(start)
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, ErrAlreadyTaken)
	}
	assert.Equal(t, 1, wins)
}

func TestBroadcastSkipsUnavailableAndIdleDrivers(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond)
	f.available(t, "driver-1", "driver-3")
	ctx := context.Background()

	d1 := f.pollDriver(ctx, "driver-1")
	d2 := f.pollDriver(ctx, "driver-2") // polling but unavailable
	waitForPollers(t, f.engine.drivers, 2)

	created, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)

	res := receive(t, d1)
	require.True(t, res.delivered)
	assert.Equal(t, created.ID, res.ride.ID)

	res = receive(t, d2)
	require.NoError(t, res.err)
	assert.False(t, res.delivered, "unavailable driver must not be offered the ride")

	// driver-3 is available but was not polling; there is no backlog.
	r, delivered, err := f.engine.WaitForRide(ctx, "driver-3")
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Nil(t, r)
}

func TestRiderPollSeesEarlierAccept(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	ctx := context.Background()
	created, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)
	_, err = f.engine.AcceptRide(ctx, AcceptCommand{RideID: created.ID, DriverID: "driver-1"})
	require.NoError(t, err)

	r, delivered, err := f.engine.WaitForAcceptedRide(ctx, "rider-1", created.ID)
	require.NoError(t, err)
	require.True(t, delivered)
	assert.Equal(t, ride.StatusAccepted, r.Status)
	assert.Equal(t, 0, f.engine.riders.Len())

	// Without a ride id the rider only hears about future accepts.
	_, delivered, err = f.engine.WaitForAcceptedRide(ctx, "rider-1", "")
	require.NoError(t, err)
	assert.False(t, delivered)
}

func TestRiderPollForeignRide(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	created, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)

	_, _, err = f.engine.WaitForAcceptedRide(ctx, "rider-2", created.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, _, err = f.engine.WaitForAcceptedRide(ctx, "rider-2", types.NewID())
	assert.ErrorIs(t, err, ride.ErrNotFound)
	assert.Equal(t, 0, f.engine.riders.Len())
}

func TestRiderPollFilteredByRide(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	ctx := context.Background()
	first, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)
	second, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "C", Destination: "D"})
	require.NoError(t, err)

	poll := f.pollRider(ctx, "rider-1", first.ID)
	waitForPollers(t, f.engine.riders, 1)

	_, err = f.engine.AcceptRide(ctx, AcceptCommand{RideID: second.ID, DriverID: "driver-1"})
	require.NoError(t, err)
	select {
	case res := <-poll:
		t.Fatalf("poll for %s returned early with ride %v", first.ID, res.ride)
	case <-time.After(50 * time.Millisecond):
	}
	waitForPollers(t, f.engine.riders, 1)

	_, err = f.engine.AcceptRide(ctx, AcceptCommand{RideID: first.ID, DriverID: "driver-2"})
	require.NoError(t, err)
	res := receive(t, poll)
	require.NoError(t, res.err)
	require.True(t, res.delivered)
	assert.Equal(t, first.ID, res.ride.ID)
	require.NotNil(t, res.ride.DriverID)
	assert.Equal(t, types.ID("driver-2"), *res.ride.DriverID)
}

func TestRiderPollFilterKeepsDeadline(t *testing.T) {
	f := newFixture(t, 150*time.Millisecond)
	ctx := context.Background()
	first, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)
	second, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "C", Destination: "D"})
	require.NoError(t, err)

	start := time.Now()
	poll := f.pollRider(ctx, "rider-1", first.ID)
	waitForPollers(t, f.engine.riders, 1)
	_, err = f.engine.AcceptRide(ctx, AcceptCommand{RideID: second.ID, DriverID: "driver-1"})
	require.NoError(t, err)

	res := receive(t, poll)
	require.NoError(t, res.err)
	assert.False(t, res.delivered)
	assert.Less(t, time.Since(start), time.Second, "re-armed wait must not restart the full timeout")
	assert.Equal(t, 0, f.engine.riders.Len())
}

func TestCancelWakesRiderPoll(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	ctx := context.Background()
	created, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)

	poll := f.pollRider(ctx, "rider-1", created.ID)
	waitForPollers(t, f.engine.riders, 1)
	_, err = f.engine.CancelRide(ctx, CancelCommand{RideID: created.ID, ActorID: "rider-1", Role: types.RoleUser})
	require.NoError(t, err)

	res := receive(t, poll)
	require.NoError(t, res.err)
	require.True(t, res.delivered)
	assert.Equal(t, created.ID, res.ride.ID)
	assert.Equal(t, ride.StatusCancelled, res.ride.Status)
}

func TestClientDisconnectRemovesSlot(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	f.available(t, "driver-1")
	ctx, cancel := context.WithCancel(context.Background())

	d1 := f.pollDriver(ctx, "driver-1")
	waitForPollers(t, f.engine.drivers, 1)
	cancel()

	res := receive(t, d1)
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.False(t, res.delivered)
	assert.Equal(t, 0, f.engine.drivers.Len())

	_, err := f.engine.CreateRide(context.Background(), CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)
}

func TestSecondPollSupersedesFirst(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	f.available(t, "driver-1")
	ctx := context.Background()

	first := f.pollDriver(ctx, "driver-1")
	waitForPollers(t, f.engine.drivers, 1)
	second := f.pollDriver(ctx, "driver-1")

	res := receive(t, first)
	assert.ErrorIs(t, res.err, waitreg.ErrSuperseded)

	created, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)
	res = receive(t, second)
	require.True(t, res.delivered)
	assert.Equal(t, created.ID, res.ride.ID)
}

func TestRejectPolicyRefusesSecondPoll(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	f.engine.drivers = waitreg.New[*ride.Ride](waitreg.PolicyReject)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := f.pollDriver(ctx, "driver-1")
	waitForPollers(t, f.engine.drivers, 1)
	_, _, err := f.engine.WaitForRide(ctx, "driver-1")
	assert.ErrorIs(t, err, waitreg.ErrConflictingWait)

	cancel()
	res := receive(t, first)
	assert.ErrorIs(t, res.err, context.Canceled)
}

func TestCompleteRide(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	created, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)

	_, err = f.engine.CompleteRide(ctx, CompleteCommand{RideID: created.ID, DriverID: "driver-1"})
	assert.ErrorIs(t, err, ErrForbidden, "pending ride has no driver")

	_, err = f.engine.AcceptRide(ctx, AcceptCommand{RideID: created.ID, DriverID: "driver-1"})
	require.NoError(t, err)
	_, err = f.engine.CompleteRide(ctx, CompleteCommand{RideID: created.ID, DriverID: "driver-2"})
	assert.ErrorIs(t, err, ErrForbidden)

	done, err := f.engine.CompleteRide(ctx, CompleteCommand{RideID: created.ID, DriverID: "driver-1"})
	require.NoError(t, err)
	assert.Equal(t, ride.StatusCompleted, done.Status)

	_, err = f.engine.CompleteRide(ctx, CompleteCommand{RideID: created.ID, DriverID: "driver-1"})
	assert.ErrorIs(t, err, ride.ErrStaleState)
	_, err = f.engine.CancelRide(ctx, CancelCommand{RideID: created.ID, ActorID: "rider-1", Role: types.RoleUser})
	assert.ErrorIs(t, err, ride.ErrInvalidTransition)
}

func TestCancelRide(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	pending, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)
	_, err = f.engine.CancelRide(ctx, CancelCommand{RideID: pending.ID, ActorID: "rider-2", Role: types.RoleUser})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.engine.CancelRide(ctx, CancelCommand{RideID: pending.ID, ActorID: "driver-1", Role: types.RoleCaptain})
	assert.ErrorIs(t, err, ErrForbidden, "unbound driver cannot cancel")

	cancelled, err := f.engine.CancelRide(ctx, CancelCommand{RideID: pending.ID, ActorID: "rider-1", Role: types.RoleUser, Reason: "changed plans"})
	require.NoError(t, err)
	assert.Equal(t, ride.StatusCancelled, cancelled.Status)
	_, err = f.engine.AcceptRide(ctx, AcceptCommand{RideID: pending.ID, DriverID: "driver-1"})
	assert.ErrorIs(t, err, ErrAlreadyTaken, "cancelled ride cannot be accepted")

	accepted, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)
	_, err = f.engine.AcceptRide(ctx, AcceptCommand{RideID: accepted.ID, DriverID: "driver-1"})
	require.NoError(t, err)
	byDriver, err := f.engine.CancelRide(ctx, CancelCommand{RideID: accepted.ID, ActorID: "driver-1", Role: types.RoleCaptain})
	require.NoError(t, err)
	assert.Equal(t, ride.StatusCancelled, byDriver.Status)
	require.NotNil(t, byDriver.DriverID)
}

func TestGetRideVisibility(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	created, err := f.engine.CreateRide(ctx, CreateCommand{RiderID: "rider-1", Pickup: "A", Destination: "B"})
	require.NoError(t, err)

	_, err = f.engine.GetRide(ctx, created.ID, "driver-9", types.RoleCaptain)
	assert.NoError(t, err, "drivers may view pending offers")
	_, err = f.engine.GetRide(ctx, created.ID, "rider-2", types.RoleUser)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.engine.AcceptRide(ctx, AcceptCommand{RideID: created.ID, DriverID: "driver-1"})
	require.NoError(t, err)
	_, err = f.engine.GetRide(ctx, created.ID, "driver-9", types.RoleCaptain)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.engine.GetRide(ctx, created.ID, "driver-1", types.RoleCaptain)
	assert.NoError(t, err)
	_, err = f.engine.GetRide(ctx, types.NewID(), "rider-1", types.RoleUser)
	assert.ErrorIs(t, err, ride.ErrNotFound)
}

func TestToggleAvailability(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	on, err := f.engine.ToggleAvailability(ctx, "driver-1")
	require.NoError(t, err)
	assert.True(t, on)
	ok, err := f.engine.IsAvailable(ctx, "driver-1")
	require.NoError(t, err)
	assert.True(t, ok)

	off, err := f.engine.ToggleAvailability(ctx, "driver-1")
	require.NoError(t, err)
	assert.False(t, off)
}
