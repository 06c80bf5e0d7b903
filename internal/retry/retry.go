// Package retry implements Barn's RetryController: the decision of
// whether a FAILED job gets re-queued, and the exponential backoff
// delay before its next attempt.
package retry

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/samson-media/barn/internal/barnclock"
	"github.com/samson-media/barn/internal/job"
	"github.com/samson-media/barn/internal/manifest"
)

// Decision is the outcome of evaluating a failed job against its
// manifest's retry policy.
type Decision struct {
	ShouldRetry bool
	RetryAt     time.Time
	// CorrelationID identifies this retry evaluation in logs; it has no
	// on-disk meaning and is never written to the job's state files.
	CorrelationID string
}

// Evaluate decides whether j (currently FAILED with the given exit code)
// should be retried: retry count against the manifest's ceiling, the
// exit code against its allowlist, then the backoff delay for the next
// attempt.
func Evaluate(clock barnclock.Clock, m *manifest.Manifest, retryCount, exitCode int) Decision {
	correlationID := uuid.NewString()

	if retryCount >= m.MaxRetries {
		return Decision{ShouldRetry: false, CorrelationID: correlationID}
	}
	if !m.RetryEligible(exitCode) {
		return Decision{ShouldRetry: false, CorrelationID: correlationID}
	}

	delaySeconds := float64(m.RetryDelaySeconds) * math.Pow(m.RetryBackoffMultiplier, float64(retryCount))
	delay := time.Duration(delaySeconds * float64(time.Second))
	return Decision{
		ShouldRetry:   true,
		RetryAt:       clock.Now().Add(delay),
		CorrelationID: correlationID,
	}
}

// Controller applies retry decisions to the job repository.
type Controller struct {
	repo  *job.Repository
	clock barnclock.Clock
}

// NewController creates a Controller operating on repo.
func NewController(repo *job.Repository, clock barnclock.Clock) *Controller {
	return &Controller{repo: repo, clock: clock}
}

// HandleFailure is called whenever a job transitions into FAILED. It
// loads the job's manifest, evaluates the retry decision, and either
// leaves the job FAILED (terminal) or re-queues it via
// JobRepository.IncrementRetry. Returns the decision made, so callers
// can log the correlation id.
func (c *Controller) HandleFailure(id string, exitCode int, errMsg *string) (Decision, error) {
	j, err := c.repo.FindByID(id)
	if err != nil {
		return Decision{}, err
	}
	m, err := c.repo.LoadManifest(id)
	if err != nil {
		return Decision{}, err
	}

	decision := Evaluate(c.clock, m, j.RetryCount, exitCode)
	if !decision.ShouldRetry {
		return decision, nil
	}

	if err := c.repo.IncrementRetry(id, exitCode, errMsg, decision.RetryAt); err != nil {
		return decision, err
	}
	return decision, nil
}
