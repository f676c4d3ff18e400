package goals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/fittracker/internal/storage"
	"github.com/2beens/fittracker/internal/telemetry/tracing"
	"github.com/2beens/fittracker/internal/tracker/trackerr"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
)

const (
	keyPrefix        = "goals"
	onboardingPrefix = "onboarding"
)

type onboardingState struct {
	Pending  bool      `json:"pending"`
	RaisedAt time.Time `json:"raised_at"`
}

// Registry holds one active goal per key and falls back to Defaults when a
// goal was never set.
type Registry struct {
	kv  storage.Store
	Now func() time.Time
}

func NewRegistry(kv storage.Store) *Registry {
	return &Registry{
		kv:  kv,
		Now: time.Now,
	}
}

func goalKey(k Key) string {
	return storage.Key(keyPrefix, k.String())
}

func onboardingKey(k Key) string {
	return storage.Key(keyPrefix, onboardingPrefix, k.String())
}

// Get returns the stored goal of k, or its default. The first default read of
// a key raises the onboarding flag for it (Goal.Onboarding); later reads don't.
func (r *Registry) Get(ctx context.Context, k Key) (_ Goal, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.goals.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("goal", k.String()))

	if err := k.validate(); err != nil {
		return Goal{}, err
	}

	goal, err := r.load(ctx, k)
	if err == nil {
		return goal, nil
	}
	if !errors.Is(err, trackerr.ErrNotFound) {
		return Goal{}, err
	}

	goal = Goal{
		Key:       k,
		Target:    Defaults[k.Metric],
		IsDefault: true,
	}

	raised, err := r.raiseOnboarding(ctx, k)
	goal.Onboarding = raised
	if errors.Is(err, trackerr.ErrPersistence) {
		// the marker stays pending in the store and is flushed later
		log.Warnf("goal [%s]: onboarding marker not persisted: %s", k, err)
		return goal, nil
	}
	return goal, err
}

// Set replaces the goal of k. Out of bounds targets are rejected, never clamped.
func (r *Registry) Set(ctx context.Context, k Key, target float64) (_ Goal, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.goals.set")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(
		attribute.String("goal", k.String()),
		attribute.Float64("target", target),
	)

	if err := k.validate(); err != nil {
		return Goal{}, err
	}
	if err := validateTarget(k, target); err != nil {
		return Goal{}, err
	}

	goal := Goal{
		Key:       k,
		Target:    target,
		UpdatedAt: r.Now(),
	}
	raw, err := json.Marshal(goal)
	if err != nil {
		return Goal{}, fmt.Errorf("marshal goal [%s]: %w", k, err)
	}

	err = multierr.Combine(
		r.kv.Save(ctx, goalKey(k), raw),
		r.saveOnboarding(ctx, k, onboardingState{Pending: false}),
	)
	if err != nil {
		return goal, fmt.Errorf("save goal [%s]: %w", k, err)
	}
	return goal, nil
}

// SetMany validates all targets first and only then stores them.
// Stores are independent: a failure leaves earlier goals set.
func (r *Registry) SetMany(ctx context.Context, targets map[Key]float64) ([]Goal, error) {
	for k, target := range targets {
		if err := k.validate(); err != nil {
			return nil, err
		}
		if err := validateTarget(k, target); err != nil {
			return nil, err
		}
	}

	var setErr error
	set := make([]Goal, 0, len(targets))
	for _, k := range AllKeys() {
		target, ok := targets[k]
		if !ok {
			continue
		}
		goal, err := r.Set(ctx, k, target)
		if err != nil {
			setErr = multierr.Append(setErr, err)
			if !errors.Is(err, trackerr.ErrPersistence) {
				continue
			}
		}
		set = append(set, goal)
	}
	return set, setErr
}

// Reset drops the stored goal of k, so the default applies again.
func (r *Registry) Reset(ctx context.Context, k Key) error {
	if err := k.validate(); err != nil {
		return err
	}
	if err := r.kv.Delete(ctx, goalKey(k)); err != nil {
		if errors.Is(err, trackerr.ErrNotFound) {
			return fmt.Errorf("goal [%s]: %w", k, trackerr.ErrNotFound)
		}
		return fmt.Errorf("delete goal [%s]: %w", k, err)
	}
	return nil
}

// PendingOnboarding lists the keys whose default was read but never
// acknowledged or replaced.
func (r *Registry) PendingOnboarding(ctx context.Context) ([]Key, error) {
	pending := make([]Key, 0)
	for _, k := range AllKeys() {
		state, err := r.loadOnboarding(ctx, k)
		if err != nil {
			if errors.Is(err, trackerr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if state.Pending {
			pending = append(pending, k)
		}
	}
	return pending, nil
}

// AckOnboarding marks the onboarding of k as handled, keeping the default.
func (r *Registry) AckOnboarding(ctx context.Context, k Key) error {
	if err := k.validate(); err != nil {
		return err
	}
	return r.saveOnboarding(ctx, k, onboardingState{Pending: false})
}

func (r *Registry) load(ctx context.Context, k Key) (Goal, error) {
	raw, err := r.kv.Load(ctx, goalKey(k))
	if err != nil {
		if errors.Is(err, trackerr.ErrNotFound) {
			return Goal{}, err
		}
		return Goal{}, fmt.Errorf("load goal [%s]: %w", k, err)
	}

	var goal Goal
	if err := json.Unmarshal(raw, &goal); err != nil {
		return Goal{}, fmt.Errorf("unmarshal goal [%s]: %w", k, err)
	}
	goal.Key = k
	return goal, nil
}

func (r *Registry) raiseOnboarding(ctx context.Context, k Key) (bool, error) {
	_, err := r.loadOnboarding(ctx, k)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, trackerr.ErrNotFound) {
		return false, err
	}

	// raised even when the flag could not be persisted
	return true, r.saveOnboarding(ctx, k, onboardingState{Pending: true, RaisedAt: r.Now()})
}

func (r *Registry) loadOnboarding(ctx context.Context, k Key) (onboardingState, error) {
	raw, err := r.kv.Load(ctx, onboardingKey(k))
	if err != nil {
		if errors.Is(err, trackerr.ErrNotFound) {
			return onboardingState{}, err
		}
		return onboardingState{}, fmt.Errorf("load onboarding [%s]: %w", k, err)
	}

	var state onboardingState
	if err := json.Unmarshal(raw, &state); err != nil {
		return onboardingState{}, fmt.Errorf("unmarshal onboarding [%s]: %w", k, err)
	}
	return state, nil
}

func (r *Registry) saveOnboarding(ctx context.Context, k Key, state onboardingState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal onboarding [%s]: %w", k, err)
	}
	if err := r.kv.Save(ctx, onboardingKey(k), raw); err != nil {
		return fmt.Errorf("save onboarding [%s]: %w", k, err)
	}
	return nil
}
