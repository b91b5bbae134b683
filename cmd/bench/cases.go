// README: Scenario cases: dispatch flow, accept race, long-poll timeout, plus env and perf checks.
package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridehail/internal/infra"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"

	// pollSettle gives parked long-polls time to register before a ride is created.
	pollSettle = 300 * time.Millisecond
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.PollTimeout + 10*time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func fail(format string, args ...any) Result {
	return Result{Status: StatusFail, Note: fmt.Sprintf(format, args...)}
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: apply (optional)", Run: applyMigration},
		{Name: "API: gateway health", Run: checkHealth},
		{Name: "Scenario 1: create ride returns pending", Run: scenarioCreate},
		{Name: "Scenario 2: idle driver poll times out with 204", Run: scenarioPollTimeout},
		{Name: "Scenario 3+4: broadcast, accept race, rider woken", Run: scenarioDispatch},
		{Name: "Scenario 5: accept unknown ride -> 404", Run: scenarioUnknownRide},
		{Name: "Concurrency: many drivers accept one ride", Run: concurrentAccept},
		{Name: "Lifecycle: completed ride cannot be cancelled", Run: scenarioTerminal},
		{Name: "Perf: create ride throughput", Run: perfCreate},
	}
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusSkip, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return fail("%v", err)
	}
	return Result{Status: StatusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusSkip, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return fail("%v", err)
	}
	return Result{Status: StatusPass}
}

func applyMigration(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: StatusSkip, Note: "apply-migration=false"}
	}
	if r.db == nil {
		return fail("db not configured")
	}
	if err := infra.ApplyMigrations(ctx, r.db, r.cfg.MigrationPath); err != nil {
		return fail("%v", err)
	}
	return Result{Status: StatusPass}
}

func checkHealth(ctx context.Context, r *Runner) Result {
	start := time.Now()
	code, err := r.call(ctx, http.MethodGet, "/health", "", nil, nil)
	if err != nil {
		return fail("%v", err)
	}
	if code != http.StatusOK {
		return fail("status=%d", code)
	}
	return Result{Status: StatusPass, Latency: time.Since(start)}
}

func scenarioCreate(ctx context.Context, r *Runner) Result {
	rider, err := r.register(ctx, "user", "rider")
	if err != nil {
		return fail("%v", err)
	}
	start := time.Now()
	var created rideView
	code, err := r.call(ctx, http.MethodPost, "/ride/create-ride", rider.Token,
		map[string]string{"pickup": "A", "destination": "B"}, &created)
	if err != nil {
		return fail("%v", err)
	}
	if code != http.StatusCreated || created.Status != "pending" || created.DriverID != nil {
		return fail("status=%d ride=%+v", code, created)
	}
	return Result{Status: StatusPass, Latency: time.Since(start)}
}

func scenarioPollTimeout(ctx context.Context, r *Runner) Result {
	// An unavailable driver is never offered rides, so other cases cannot wake it.
	driver, err := r.register(ctx, "captain", "idle")
	if err != nil {
		return fail("%v", err)
	}
	start := time.Now()
	out := <-r.poll(ctx, "/captain/new-ride", driver.Token)
	if out.err != nil {
		return fail("%v", out.err)
	}
	if out.code != http.StatusNoContent {
		return fail("status=%d", out.code)
	}
	return Result{Status: StatusPass, Latency: time.Since(start)}
}

func scenarioDispatch(ctx context.Context, r *Runner) Result {
	rider, err := r.register(ctx, "user", "rider")
	if err != nil {
		return fail("%v", err)
	}
	d1, err := r.availableDriver(ctx, "driver1")
	if err != nil {
		return fail("%v", err)
	}
	d2, err := r.availableDriver(ctx, "driver2")
	if err != nil {
		return fail("%v", err)
	}

	p1 := r.poll(ctx, "/captain/new-ride", d1.Token)
	p2 := r.poll(ctx, "/captain/new-ride", d2.Token)
	time.Sleep(pollSettle)

	start := time.Now()
	var created rideView
	if code, err := r.call(ctx, http.MethodPost, "/ride/create-ride", rider.Token,
		map[string]string{"pickup": "A", "destination": "B"}, &created); err != nil || code != http.StatusCreated {
		return fail("create: status=%d err=%v", code, err)
	}
	riderPoll := r.poll(ctx, "/user/accepted-ride?rideId="+created.ID, rider.Token)

	for i, ch := range []<-chan pollOutcome{p1, p2} {
		out := <-ch
		if out.err != nil || out.code != http.StatusOK || out.ride.ID != created.ID {
			return fail("driver%d poll: status=%d ride=%s err=%v", i+1, out.code, out.ride.ID, out.err)
		}
	}

	var accepted rideView
	code, err := r.call(ctx, http.MethodPut, "/ride/accept-ride?rideId="+created.ID, d1.Token, nil, &accepted)
	if err != nil || code != http.StatusOK {
		return fail("driver1 accept: status=%d err=%v", code, err)
	}
	if accepted.Status != "accepted" || accepted.DriverID == nil || *accepted.DriverID != d1.ID {
		return fail("driver1 accept returned %+v", accepted)
	}
	code, err = r.call(ctx, http.MethodPut, "/ride/accept-ride?rideId="+created.ID, d2.Token, nil, nil)
	if err != nil || code != http.StatusConflict {
		return fail("driver2 accept: want 409, status=%d err=%v", code, err)
	}

	out := <-riderPoll
	if out.err != nil || out.code != http.StatusOK {
		return fail("rider poll: status=%d err=%v", out.code, out.err)
	}
	if out.ride.DriverID == nil || *out.ride.DriverID != d1.ID {
		return fail("rider woken with %+v", out.ride)
	}
	return Result{Status: StatusPass, Latency: time.Since(start)}
}

func scenarioUnknownRide(ctx context.Context, r *Runner) Result {
	driver, err := r.register(ctx, "captain", "lost")
	if err != nil {
		return fail("%v", err)
	}
	code, err := r.call(ctx, http.MethodPut, "/ride/accept-ride?rideId=00000000000000000000000000000000", driver.Token, nil, nil)
	if err != nil {
		return fail("%v", err)
	}
	if code != http.StatusNotFound {
		return fail("status=%d", code)
	}
	return Result{Status: StatusPass}
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	rider, err := r.register(ctx, "user", "rider")
	if err != nil {
		return fail("%v", err)
	}
	var created rideView
	if code, err := r.call(ctx, http.MethodPost, "/ride/create-ride", rider.Token,
		map[string]string{"pickup": "A", "destination": "B"}, &created); err != nil || code != http.StatusCreated {
		return fail("create: status=%d err=%v", code, err)
	}

	drivers := make([]session, r.cfg.Concurrency)
	for i := range drivers {
		if drivers[i], err = r.register(ctx, "captain", fmt.Sprintf("racer%d", i)); err != nil {
			return fail("%v", err)
		}
	}

	var wg sync.WaitGroup
	var won, taken, other int32
	start := make(chan struct{})
	for _, d := range drivers {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			<-start
			code, err := r.call(ctx, http.MethodPut, "/ride/accept-ride?rideId="+created.ID, token, nil, nil)
			switch {
			case err == nil && code == http.StatusOK:
				atomic.AddInt32(&won, 1)
			case err == nil && code == http.StatusConflict:
				atomic.AddInt32(&taken, 1)
			default:
				atomic.AddInt32(&other, 1)
			}
		}(d.Token)
	}
	began := time.Now()
	close(start)
	wg.Wait()

	note := fmt.Sprintf("won=%d taken=%d other=%d", won, taken, other)
	if won != 1 || other != 0 {
		return Result{Status: StatusFail, Note: note}
	}
	return Result{Status: StatusPass, Latency: time.Since(began), Note: note}
}

func scenarioTerminal(ctx context.Context, r *Runner) Result {
	rider, err := r.register(ctx, "user", "rider")
	if err != nil {
		return fail("%v", err)
	}
	driver, err := r.register(ctx, "captain", "finisher")
	if err != nil {
		return fail("%v", err)
	}
	var created rideView
	if code, err := r.call(ctx, http.MethodPost, "/ride/create-ride", rider.Token,
		map[string]string{"pickup": "A", "destination": "B"}, &created); err != nil || code != http.StatusCreated {
		return fail("create: status=%d err=%v", code, err)
	}
	steps := []struct {
		path, token string
		want        int
	}{
		{"/ride/accept-ride?rideId=" + created.ID, driver.Token, http.StatusOK},
		{"/ride/complete-ride?rideId=" + created.ID, driver.Token, http.StatusOK},
		{"/ride/cancel-ride?rideId=" + created.ID, rider.Token, http.StatusConflict},
		{"/ride/complete-ride?rideId=" + created.ID, driver.Token, http.StatusConflict},
	}
	for _, s := range steps {
		code, err := r.call(ctx, http.MethodPut, s.path, s.token, nil, nil)
		if err != nil || code != s.want {
			return fail("%s: want %d, status=%d err=%v", s.path, s.want, code, err)
		}
	}
	return Result{Status: StatusPass}
}

func perfCreate(ctx context.Context, r *Runner) Result {
	rider, err := r.register(ctx, "user", "loadgen")
	if err != nil {
		return fail("%v", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Duration)
	defer cancel()

	var ok, bad int64
	var wg sync.WaitGroup
	began := time.Now()
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				code, err := r.call(ctx, http.MethodPost, "/ride/create-ride", rider.Token,
					map[string]string{"pickup": "A", "destination": "B"}, nil)
				if ctx.Err() != nil {
					return
				}
				if err == nil && code == http.StatusCreated {
					atomic.AddInt64(&ok, 1)
				} else {
					atomic.AddInt64(&bad, 1)
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(began)
	rps := float64(ok) / elapsed.Seconds()
	note := fmt.Sprintf("ok=%d errors=%d rps=%.1f", ok, bad, rps)
	if bad > 0 {
		return Result{Status: StatusFail, Latency: elapsed, Note: note}
	}
	return Result{Status: StatusPass, Latency: elapsed, Note: note}
}
