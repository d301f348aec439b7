// Package sampler acquires repeated raw position readings from a device
// location service.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/playperu/stamprally/internal/stamprally"
)

var errWatchClosed = errors.New("position watch closed")

type PermissionState string

const (
	PermissionGranted     PermissionState = "granted"
	PermissionDenied      PermissionState = "denied"
	PermissionPrompt      PermissionState = "prompt"
	PermissionUnsupported PermissionState = "unsupported"
)

type PositionOptions struct {
	HighAccuracy bool
	MaximumAge   time.Duration
	Timeout      time.Duration
}

// Fix is one update from a position watch.
type Fix struct {
	Reading stamprally.RawReading
	Err     error
}

// LocationService is the device-side geolocation API.
type LocationService interface {
	// Available reports whether the device exposes geolocation at all.
	Available() bool
	Permission(ctx context.Context) (PermissionState, error)
	CurrentPosition(ctx context.Context, opts PositionOptions) (stamprally.RawReading, error)
	// WatchPosition subscribes to position updates until stop is called or
	// ctx ends. stop must be safe to call more than once.
	WatchPosition(ctx context.Context, opts PositionOptions) (fixes <-chan Fix, stop func(), err error)
}

type Options struct {
	SecureContext bool
	// Timeout bounds each platform request.
	Timeout time.Duration
	// Grace is added to Timeout for the hard per-attempt deadline.
	Grace time.Duration
	// StrictPermission fails sampling when the permission query itself
	// errors. By default such errors are logged and sampling proceeds.
	StrictPermission bool
}

func DefaultOptions() Options {
	return Options{
		Timeout: 10 * time.Second,
		Grace:   2 * time.Second,
	}
}

type Sampler struct {
	loc    LocationService
	opts   Options
	logger *slog.Logger
}

func New(loc LocationService, opts Options, logger *slog.Logger) *Sampler {
	return &Sampler{loc: loc, opts: opts, logger: logger}
}

// Check verifies that sampling may start. It returns a
// *stamprally.PreconditionError when it may not.
func (s *Sampler) Check(ctx context.Context) error {
	if !s.loc.Available() {
		return &stamprally.PreconditionError{Reason: stamprally.PreconditionUnsupported}
	}
	if !s.opts.SecureContext {
		return &stamprally.PreconditionError{Reason: stamprally.PreconditionInsecureContext}
	}

	state, err := s.loc.Permission(ctx)
	if err != nil {
		if s.opts.StrictPermission {
			return &stamprally.PreconditionError{Reason: stamprally.PreconditionPermissionQuery, Err: err}
		}
		s.logger.Warn("permission query failed, continuing", "error", err)
		return nil
	}
	if state == PermissionDenied {
		return &stamprally.PreconditionError{Reason: stamprally.PreconditionPermissionDenied}
	}
	return nil
}

// Sample checks preconditions, then makes n attempts to read the position,
// waiting interval after each successful attempt but the last. Failed
// attempts are skipped, so the result may hold fewer than n readings. The
// returned log has one line per attempt.
func (s *Sampler) Sample(ctx context.Context, n int, interval time.Duration) ([]stamprally.RawReading, string, error) {
	if err := s.Check(ctx); err != nil {
		return nil, "", err
	}

	var (
		readings []stamprally.RawReading
		log      []string
	)
	for i := range n {
		r, err := s.once(ctx)
		if err != nil {
			log = append(log, fmt.Sprintf("#%d: location error (%v)", i+1, err))
			s.logger.Debug("sample attempt failed", "attempt", i+1, "error", err)
			if ctx.Err() != nil {
				return readings, strings.Join(log, "\n"), ctx.Err()
			}
			continue
		}

		readings = append(readings, r)
		log = append(log, fmt.Sprintf("#%d: lat=%.6f, lng=%.6f, acc~%dm",
			i+1, r.Lat, r.Lng, int(math.Round(r.AccuracyMeters))))

		if i < n-1 {
			if err := sleep(ctx, interval); err != nil {
				return readings, strings.Join(log, "\n"), err
			}
		}
	}
	return readings, strings.Join(log, "\n"), nil
}

// once races a one-shot request against a watch subscription and returns
// the first fix. Both paths are stopped and joined before it returns.
func (s *Sampler) once(parent context.Context) (stamprally.RawReading, error) {
	ctx, cancel := context.WithTimeout(parent, s.opts.Timeout+s.opts.Grace)
	g, gctx := errgroup.WithContext(ctx)
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	opts := PositionOptions{
		HighAccuracy: true,
		MaximumAge:   10 * time.Second,
		Timeout:      s.opts.Timeout,
	}

	// Buffered so a losing path never blocks.
	fixes := make(chan Fix, 2)

	g.Go(func() error {
		r, err := s.loc.CurrentPosition(gctx, opts)
		fixes <- Fix{Reading: r, Err: err}
		return nil
	})

	g.Go(func() error {
		ch, stop, err := s.loc.WatchPosition(gctx, opts)
		if err != nil {
			fixes <- Fix{Err: err}
			return nil
		}
		defer stop()

		select {
		case <-gctx.Done():
			fixes <- Fix{Err: gctx.Err()}
		case f, ok := <-ch:
			if !ok {
				f.Err = errWatchClosed
			}
			fixes <- f
		}
		return nil
	})

	var lastErr error
	for range 2 {
		select {
		case f := <-fixes:
			if f.Err == nil {
				f.Err = f.Reading.Validate()
			}
			if f.Err == nil {
				return f.Reading, nil
			}
			lastErr = f.Err
		case <-ctx.Done():
			return stamprally.RawReading{}, timeoutErr(parent, ctx)
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) || errors.Is(lastErr, context.Canceled) {
		return stamprally.RawReading{}, timeoutErr(parent, ctx)
	}
	return stamprally.RawReading{}, lastErr
}

func timeoutErr(parent, ctx context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stamprally.ErrSamplingTimeout
	}
	return ctx.Err()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
