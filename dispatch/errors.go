package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// Step names one independent write of a delivery.
type Step string

const (
	StepSenderCopy      Step = "sender_copy"
	StepRecipientCopy   Step = "recipient_copy"
	StepSenderRecent    Step = "sender_recent"
	StepRecipientRecent Step = "recipient_recent"
)

var stepOrder = []Step{StepSenderCopy, StepRecipientCopy, StepSenderRecent, StepRecipientRecent}

const (
	statusOK      = "ok"
	statusSkipped = "skipped"
)

// DeliveryError reports a delivery where at least one step failed. Steps
// that succeeded are not undone.
type DeliveryError struct {
	// Failed holds the error of every failed step.
	Failed map[Step]error
	// Status is "ok", "skipped" or the error text for every step attempted.
	Status map[Step]string
	err    error
}

func (e *DeliveryError) Error() string {
	return "delivery incomplete: " + e.err.Error()
}

// Unwrap exposes the step errors to errors.Is and errors.As.
func (e *DeliveryError) Unwrap() []error {
	return multierr.Errors(e.err)
}

// Delivered reports whether the recipient's copy was written.
func (e *DeliveryError) Delivered() bool {
	return e.Status[StepRecipientCopy] == statusOK
}

// StatusStrings is Status keyed by plain strings, for JSON responses.
func (e *DeliveryError) StatusStrings() map[string]string {
	out := make(map[string]string, len(e.Status))
	for step, status := range e.Status {
		out[string(step)] = status
	}
	return out
}

type report struct {
	mu     sync.Mutex
	status map[Step]string
	failed map[Step]error
}

func newReport() *report {
	return &report{
		status: make(map[Step]string),
		failed: make(map[Step]error),
	}
}

func (r *report) record(step Step, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.status[step] = err.Error()
		r.failed[step] = err
		return
	}
	r.status[step] = statusOK
}

func (r *report) skip(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[step] = statusSkipped
}

func (r *report) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failed) == 0 {
		return nil
	}
	var combined error
	for _, step := range stepOrder {
		if err, ok := r.failed[step]; ok {
			combined = multierr.Append(combined, &stepError{step: step, err: err})
		}
	}
	return &DeliveryError{Failed: r.failed, Status: r.status, err: combined}
}

type stepError struct {
	step Step
	err  error
}

func (e *stepError) Error() string { return fmt.Sprintf("%s: %v", e.step, e.err) }

func (e *stepError) Unwrap() error { return e.err }

// Summary lists step statuses in delivery order.
func (e *DeliveryError) Summary() string {
	var b strings.Builder
	for _, step := range stepOrder {
		status, ok := e.Status[step]
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", step, status)
	}
	return b.String()
}
