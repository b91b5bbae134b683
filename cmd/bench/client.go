package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type session struct {
	Token string
	ID    string
}

type rideView struct {
	ID       string  `json:"id"`
	RiderID  string  `json:"riderId"`
	DriverID *string `json:"driverId"`
	Status   string  `json:"status"`
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// register creates a throwaway account; emails are unique per run.
func (r *Runner) register(ctx context.Context, role, name string) (session, error) {
	body := map[string]string{
		"name":     name,
		"email":    fmt.Sprintf("%s-%d@bench.local", name, time.Now().UnixNano()),
		"password": "bench-secret",
	}
	if role == "captain" {
		body["licenseNumber"] = "BENCH-" + name
	}
	var resp struct {
		Token   string `json:"token"`
		Account struct {
			ID string `json:"id"`
		} `json:"account"`
	}
	code, err := r.call(ctx, http.MethodPost, "/"+role+"/register", "", body, &resp)
	if err != nil {
		return session{}, err
	}
	if code != http.StatusCreated {
		return session{}, fmt.Errorf("register %s: status=%d", role, code)
	}
	return session{Token: resp.Token, ID: resp.Account.ID}, nil
}

// availableDriver registers a captain and toggles it available.
func (r *Runner) availableDriver(ctx context.Context, name string) (session, error) {
	s, err := r.register(ctx, "captain", name)
	if err != nil {
		return s, err
	}
	var toggled struct {
		IsAvailable bool `json:"isAvailable"`
	}
	if _, err := r.call(ctx, http.MethodPatch, "/captain/toggle-availability", s.Token, nil, &toggled); err != nil {
		return s, err
	}
	if !toggled.IsAvailable {
		return s, fmt.Errorf("driver %s still unavailable after toggle", name)
	}
	return s, nil
}

type pollOutcome struct {
	code int
	ride rideView
	err  error
}

func (r *Runner) poll(ctx context.Context, path, token string) <-chan pollOutcome {
	out := make(chan pollOutcome, 1)
	go func() {
		var v rideView
		code, err := r.call(ctx, http.MethodGet, path, token, nil, &v)
		out <- pollOutcome{code: code, ride: v, err: err}
	}()
	return out
}
