package input

import (
	"sync"
	"time"

	"transcendence/pong/internal/logging"
)

// ValidationReason identifies why an inbound message was rejected at the protocol layer.
type ValidationReason string

const (
	ValidationReasonNone             ValidationReason = ""
	ValidationReasonMalformed        ValidationReason = "malformed"
	ValidationReasonUnknownType      ValidationReason = "unknown_type"
	ValidationReasonInvalidDirection ValidationReason = "invalid_direction"
	ValidationReasonUnbound          ValidationReason = "unbound"
	ValidationReasonCooldownActive   ValidationReason = "cooldown_active"
)

// Constraints configures how many protocol violations a connection may commit before it
// is silenced and, eventually, disconnected.
type Constraints struct {
	InvalidBurstLimit  int
	InvalidBurstWindow time.Duration
	CooldownDuration   time.Duration
	MaxCooldownStrikes int
}

// DefaultConstraints provides the tuned baseline for production traffic.
var DefaultConstraints = Constraints{
	InvalidBurstLimit:  5,
	InvalidBurstWindow: time.Second,
	CooldownDuration:   500 * time.Millisecond,
	MaxCooldownStrikes: 3,
}

// ValidationDecision summarises the outcome of a Check or Report call.
type ValidationDecision struct {
	Accepted   bool
	Reason     ValidationReason
	Warn       bool
	Disconnect bool
	Cooldown   time.Duration
}

// ValidationCounters aggregates per-client violation statistics.
type ValidationCounters struct {
	Violations  map[ValidationReason]uint64 `json:"violations,omitempty"`
	Cooldowns   uint64                      `json:"cooldowns"`
	Disconnects uint64                      `json:"disconnects"`
}

// ValidatorOption customises validator construction.
type ValidatorOption func(*Validator)

// Validator tracks protocol violations per connection and escalates repeated abuse.
type Validator struct {
	mu      sync.Mutex
	cfg     Constraints
	clock   Clock
	logger  *logging.Logger
	clients map[string]*validatorClientState
	metrics map[string]ValidationCounters
}

type validatorClientState struct {
	firstInvalid  time.Time
	invalidCount  int
	cooldownUntil time.Time
	strikes       int
}

// WithValidatorClock overrides the clock used to determine cooldown windows.
func WithValidatorClock(clock Clock) ValidatorOption {
	return func(v *Validator) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// WithValidatorLogger injects a logger for diagnostics.
func WithValidatorLogger(logger *logging.Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator builds a validator with the supplied constraints and logger.
func NewValidator(cfg Constraints, logger *logging.Logger, opts ...ValidatorOption) *Validator {
	//1.- Replace unset limits with the production defaults.
	if cfg.InvalidBurstLimit <= 0 {
		cfg.InvalidBurstLimit = DefaultConstraints.InvalidBurstLimit
	}
	if cfg.InvalidBurstWindow <= 0 {
		cfg.InvalidBurstWindow = DefaultConstraints.InvalidBurstWindow
	}
	if cfg.CooldownDuration <= 0 {
		cfg.CooldownDuration = DefaultConstraints.CooldownDuration
	}
	if cfg.MaxCooldownStrikes <= 0 {
		cfg.MaxCooldownStrikes = DefaultConstraints.MaxCooldownStrikes
	}
	validator := &Validator{
		cfg:     cfg,
		clock:   systemClock{},
		logger:  logger,
		clients: make(map[string]*validatorClientState),
		metrics: make(map[string]ValidationCounters),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// Check reports whether the client may currently send messages at all.
func (v *Validator) Check(clientID string) ValidationDecision {
	if v == nil {
		return ValidationDecision{Accepted: true}
	}
	now := v.clock.Now()

	v.mu.Lock()
	defer v.mu.Unlock()
	state := v.clients[clientID]
	if state != nil && now.Before(state.cooldownUntil) {
		return ValidationDecision{Reason: ValidationReasonCooldownActive, Cooldown: state.cooldownUntil.Sub(now)}
	}
	return ValidationDecision{Accepted: true}
}

// Report records one protocol violation and returns the escalation it triggered.
func (v *Validator) Report(clientID string, reason ValidationReason) ValidationDecision {
	if v == nil || reason == ValidationReasonNone {
		return ValidationDecision{Accepted: true}
	}
	now := v.clock.Now()

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.registerViolationLocked(clientID, v.ensureStateLocked(clientID), now, reason)
}

// Commit marks a well-formed message, resetting the burst counter.
func (v *Validator) Commit(clientID string) {
	if v == nil {
		return
	}
	v.mu.Lock()
	state := v.ensureStateLocked(clientID)
	state.invalidCount = 0
	state.firstInvalid = time.Time{}
	v.mu.Unlock()
}

// Forget clears all state for the specified client.
func (v *Validator) Forget(clientID string) {
	if v == nil || clientID == "" {
		return
	}
	v.mu.Lock()
	delete(v.clients, clientID)
	delete(v.metrics, clientID)
	v.mu.Unlock()
}

// Metrics returns a snapshot of per-client counters for diagnostics.
func (v *Validator) Metrics() map[string]ValidationCounters {
	if v == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.metrics) == 0 {
		return nil
	}
	snapshot := make(map[string]ValidationCounters, len(v.metrics))
	for key, counters := range v.metrics {
		clone := ValidationCounters{Cooldowns: counters.Cooldowns, Disconnects: counters.Disconnects}
		if len(counters.Violations) > 0 {
			clone.Violations = make(map[ValidationReason]uint64, len(counters.Violations))
			for reason, count := range counters.Violations {
				clone.Violations[reason] = count
			}
		}
		snapshot[key] = clone
	}
	return snapshot
}

func (v *Validator) ensureStateLocked(key string) *validatorClientState {
	state := v.clients[key]
	if state == nil {
		state = &validatorClientState{}
		v.clients[key] = state
	}
	return state
}

func (v *Validator) registerViolationLocked(key string, state *validatorClientState, now time.Time, reason ValidationReason) ValidationDecision {
	counters := v.metrics[key]
	if counters.Violations == nil {
		counters.Violations = make(map[ValidationReason]uint64)
	}
	counters.Violations[reason]++

	decision := ValidationDecision{Accepted: false, Reason: reason}

	//1.- Count violations inside the burst window, restarting it when it has lapsed.
	if state.invalidCount == 0 || now.Sub(state.firstInvalid) > v.cfg.InvalidBurstWindow {
		state.firstInvalid = now
		state.invalidCount = 1
	} else {
		state.invalidCount++
	}
	decision.Warn = v.cfg.InvalidBurstLimit-state.invalidCount == 1

	//2.- A full burst earns a cooldown and a strike; too many strikes disconnect.
	if state.invalidCount >= v.cfg.InvalidBurstLimit {
		state.cooldownUntil = now.Add(v.cfg.CooldownDuration)
		state.invalidCount = 0
		state.firstInvalid = time.Time{}
		state.strikes++
		counters.Cooldowns++
		if state.strikes >= v.cfg.MaxCooldownStrikes {
			decision.Disconnect = true
			counters.Disconnects++
		}
		decision.Cooldown = v.cfg.CooldownDuration
		if v.logger != nil {
			v.logger.Debug("protocol validator cooldown",
				logging.String("client_id", key),
				logging.String("reason", string(reason)),
				logging.Int("strikes", state.strikes),
				logging.Int64("cooldown_ms", v.cfg.CooldownDuration.Milliseconds()),
			)
		}
	}
	v.metrics[key] = counters
	return decision
}
