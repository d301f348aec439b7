// Package stamprally defines the core domain types of the stamp rally.
// It has no external dependencies.
package stamprally

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

type Spot struct {
	ID           string
	Name         string
	Lat          float64
	Lng          float64
	RadiusMeters float64
	Themes       []string
	Description  string
	Caution      string
	Quiz         []Question
}

type Question struct {
	Prompt       string
	Choices      []string
	CorrectIndex int
	Explanation  string
}

// RawReading is a single fix from the platform location service.
type RawReading struct {
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracy"`
	TimestampMs    int64   `json:"timestamp"`
}

// Validate rejects readings no real location service produces.
func (r RawReading) Validate() error {
	switch {
	case math.IsNaN(r.Lat) || r.Lat < -90 || r.Lat > 90:
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidReading, r.Lat)
	case math.IsNaN(r.Lng) || r.Lng < -180 || r.Lng > 180:
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidReading, r.Lng)
	case math.IsNaN(r.AccuracyMeters) || math.IsInf(r.AccuracyMeters, 0) || r.AccuracyMeters < 0:
		return fmt.Errorf("%w: accuracy %v must be a non-negative number", ErrInvalidReading, r.AccuracyMeters)
	}
	return nil
}

// AggregatedPosition is the best estimate folded from a batch of readings.
// AvgSpeedMps is nil when fewer than two readings were available.
type AggregatedPosition struct {
	Lat            float64  `json:"lat"`
	Lng            float64  `json:"lng"`
	AccuracyMeters float64  `json:"accuracy"`
	AvgSpeedMps    *float64 `json:"avgSpeed"`
}

type UnlockState string

const (
	StateLocked                UnlockState = "locked"
	StateProvisionallyUnlocked UnlockState = "provisionally_unlocked"
	StateStamped               UnlockState = "stamped"
)

type StampRecord struct {
	SpotID       string `json:"spotId"`
	AcquiredAtMs int64  `json:"acquiredAt"`
}

// Reason names a proximity gate that failed.
type Reason uint8

const (
	TooFar Reason = 1 << iota
	TooFast
	TooImprecise
)

var allReasons = []Reason{TooFar, TooFast, TooImprecise}

func (r Reason) String() string {
	switch r {
	case TooFar:
		return "too_far"
	case TooFast:
		return "too_fast"
	case TooImprecise:
		return "too_imprecise"
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// Guidance is the user-facing remediation for a failed gate.
func (r Reason) Guidance() string {
	switch r {
	case TooFar:
		return "you are too far from the spot; move closer and try again"
	case TooFast:
		return "you seem to be moving; stand still at the spot and try again"
	case TooImprecise:
		return "location accuracy is too low; move outdoors or near a window"
	}
	return ""
}

// ReasonSet is a set of failed gates. The zero value is empty.
type ReasonSet uint8

func (s ReasonSet) Add(r Reason) ReasonSet { return s | ReasonSet(r) }

func (s ReasonSet) Has(r Reason) bool { return s&ReasonSet(r) != 0 }

func (s ReasonSet) Empty() bool { return s == 0 }

// List returns the members in gate order.
func (s ReasonSet) List() []Reason {
	var out []Reason
	for _, r := range allReasons {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s ReasonSet) String() string {
	names := make([]string, 0, len(allReasons))
	for _, r := range s.List() {
		names = append(names, r.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Verdict is the outcome of evaluating a position against a spot.
type Verdict struct {
	Passed         bool
	DistanceMeters float64
	Reasons        ReasonSet
}

var (
	ErrSpotNotFound    = errors.New("spot not found")
	ErrSamplingTimeout = errors.New("location request timed out")
	ErrNoReadings      = errors.New("could not acquire location, try again outdoors or near a window")
	ErrQuizLocked      = errors.New("quiz is locked until the spot is unlocked by proximity")
	ErrNotUnlocked     = errors.New("spot has not been unlocked")
	ErrInvalidReading  = errors.New("invalid reading")
)

type PreconditionReason string

const (
	PreconditionUnsupported      PreconditionReason = "unsupported"
	PreconditionInsecureContext  PreconditionReason = "insecure_context"
	PreconditionPermissionDenied PreconditionReason = "permission_denied"
	PreconditionPermissionQuery  PreconditionReason = "permission_query_failed"
)

// PreconditionError reports that location sampling cannot start at all.
type PreconditionError struct {
	Reason PreconditionReason
	Err    error
}

func (e *PreconditionError) Error() string {
	var msg string
	switch e.Reason {
	case PreconditionUnsupported:
		msg = "this device or browser does not support location"
	case PreconditionInsecureContext:
		msg = "open the app over HTTPS (or localhost)"
	case PreconditionPermissionDenied:
		msg = "location access is blocked by the browser (allow it in site settings)"
	case PreconditionPermissionQuery:
		msg = "could not determine location permission"
	default:
		msg = string(e.Reason)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// Remediation is shown to the user alongside the error.
func (e *PreconditionError) Remediation() string {
	return "(1) open the app over HTTPS, (2) allow location in the site settings, (3) turn on device location"
}
