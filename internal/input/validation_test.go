package input

import (
	"sync"
	"testing"
	"time"

	"transcendence/pong/internal/logging"
)

type validatorClock struct {
	mu  sync.Mutex
	now time.Time
}

// 1.- Now returns the synthetic time used to drive cooldown calculations deterministically.
func (c *validatorClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// 2.- Advance moves the synthetic clock forward so tests can simulate elapsed time.
func (c *validatorClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestValidatorCountsViolations(t *testing.T) {
	clock := &validatorClock{now: time.UnixMilli(0)}
	validator := NewValidator(DefaultConstraints, logging.NewTestLogger(), WithValidatorClock(clock))

	decision := validator.Report("conn-A", ValidationReasonUnknownType)
	if decision.Accepted || decision.Reason != ValidationReasonUnknownType || decision.Cooldown != 0 {
		t.Fatalf("unexpected decision %+v", decision)
	}
	if !validator.Check("conn-A").Accepted {
		t.Fatal("a single violation must not silence the connection")
	}
	if got := validator.Metrics()["conn-A"].Violations[ValidationReasonUnknownType]; got != 1 {
		t.Fatalf("violation count = %d, want 1", got)
	}
}

func TestValidatorCommitResetsBurst(t *testing.T) {
	clock := &validatorClock{now: time.UnixMilli(0)}
	cfg := DefaultConstraints
	cfg.InvalidBurstLimit = 2
	validator := NewValidator(cfg, logging.NewTestLogger(), WithValidatorClock(clock))

	if decision := validator.Report("conn-B", ValidationReasonMalformed); !decision.Warn {
		t.Fatalf("expected warning one violation before cooldown, got %+v", decision)
	}
	validator.Commit("conn-B")
	if decision := validator.Report("conn-B", ValidationReasonMalformed); decision.Cooldown != 0 {
		t.Fatalf("commit should restart the burst, got %+v", decision)
	}
}

func TestValidatorAppliesCooldownAfterBurst(t *testing.T) {
	clock := &validatorClock{now: time.UnixMilli(0)}
	cfg := DefaultConstraints
	cfg.InvalidBurstLimit = 3
	cfg.CooldownDuration = 300 * time.Millisecond
	validator := NewValidator(cfg, logging.NewTestLogger(), WithValidatorClock(clock))

	var last ValidationDecision
	for i := 0; i < cfg.InvalidBurstLimit; i++ {
		last = validator.Report("conn-C", ValidationReasonInvalidDirection)
	}
	if last.Cooldown != cfg.CooldownDuration {
		t.Fatalf("expected cooldown duration %s, got %s", cfg.CooldownDuration, last.Cooldown)
	}

	decision := validator.Check("conn-C")
	if decision.Accepted || decision.Reason != ValidationReasonCooldownActive {
		t.Fatalf("expected cooldown to reject traffic, got %+v", decision)
	}

	clock.Advance(cfg.CooldownDuration)
	if decision := validator.Check("conn-C"); !decision.Accepted {
		t.Fatalf("expected acceptance after cooldown, got %+v", decision)
	}
}

func TestValidatorDisconnectsAfterStrikes(t *testing.T) {
	clock := &validatorClock{now: time.UnixMilli(0)}
	cfg := Constraints{InvalidBurstLimit: 1, MaxCooldownStrikes: 2, CooldownDuration: 100 * time.Millisecond}
	validator := NewValidator(cfg, logging.NewTestLogger(), WithValidatorClock(clock))

	if decision := validator.Report("conn-D", ValidationReasonMalformed); decision.Disconnect {
		t.Fatalf("first strike must not disconnect: %+v", decision)
	}
	clock.Advance(time.Second)
	if decision := validator.Report("conn-D", ValidationReasonMalformed); !decision.Disconnect {
		t.Fatalf("second strike should disconnect: %+v", decision)
	}
	if counters := validator.Metrics()["conn-D"]; counters.Cooldowns != 2 || counters.Disconnects != 1 {
		t.Fatalf("unexpected counters %+v", counters)
	}

	validator.Forget("conn-D")
	if _, ok := validator.Metrics()["conn-D"]; ok {
		t.Fatal("forget left counters behind")
	}
}
