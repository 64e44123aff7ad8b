// Package dispatch delivers a message to both participants of a conversation
// and refreshes the recent-conversations index.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/klipach/courier/contract"
	"github.com/klipach/courier/docstore"
	"github.com/klipach/courier/log"
)

// ErrUnknownRecipient is returned by Send when the recipient has no user record.
var ErrUnknownRecipient = errors.New("unknown recipient")

// Messages appends to a participant's copy of a conversation.
type Messages interface {
	Append(ctx context.Context, ownerID, peerID string, m contract.Message) (docstore.DocRef, error)
}

// Recents overwrites one entry of a participant's recent index.
type Recents interface {
	Upsert(ctx context.Context, ownerID, peerID string, entry contract.RecentMessage) error
}

// Users resolves user records.
type Users interface {
	Get(ctx context.Context, uid string) (contract.User, error)
}

type Dispatcher struct {
	messages Messages
	recents  Recents
	users    Users
	now      func() time.Time
	mirror   bool
	attempts int
	backoff  gax.Backoff
}

type Option func(*Dispatcher)

// WithMirroredRecent also refreshes the recipient's index entry for the
// sender, carrying the sender's profile.
func WithMirroredRecent() Option {
	return func(d *Dispatcher) { d.mirror = true }
}

// WithRetry retries a failed step up to attempts times in total, only while
// the failure is a docstore.ErrNetwork.
func WithRetry(attempts int, backoff gax.Backoff) Option {
	return func(d *Dispatcher) {
		d.attempts = attempts
		d.backoff = backoff
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func New(messages Messages, recents Recents, users Users, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		messages: messages,
		recents:  recents,
		users:    users,
		now:      time.Now,
		attempts: 1,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.attempts < 1 {
		d.attempts = 1
	}
	return d
}

// Send resolves the participants' profiles and delivers text from fromID to toID.
func (d *Dispatcher) Send(ctx context.Context, fromID, toID, text string) error {
	recipient, err := d.users.Get(ctx, toID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownRecipient, toID)
		}
		return fmt.Errorf("resolve recipient: %w", err)
	}
	sender := contract.User{UID: fromID}
	if d.mirror {
		if sender, err = d.users.Get(ctx, fromID); err != nil {
			log.LoggerFromContext(ctx).Warn("sender profile unavailable",
				slog.String(log.UserIDLogField, fromID),
				log.Err(err),
			)
			sender = contract.User{UID: fromID}
		}
	}
	return d.SendTo(ctx, sender, recipient, text)
}

// SendTo delivers text from sender to recipient:
//
//  1. the sender's copy under messages/{from}/{to}, then the sender's recent
//     entry for the recipient, carrying the recipient's profile;
//  2. independently, the recipient's copy under messages/{to}/{from}, then,
//     when mirroring, the recipient's recent entry for the sender.
//
// Both copies carry the same payload and timestamp. Nothing is rolled back:
// a partial failure is reported as a *DeliveryError.
func (d *Dispatcher) SendTo(ctx context.Context, sender, recipient contract.User, text string) error {
	logger := log.LoggerFromContext(ctx).With(
		slog.String(log.UserIDLogField, sender.UID),
		slog.String(log.PeerIDLogField, recipient.UID),
	)
	msg := contract.Message{
		FromID:    sender.UID,
		ToID:      recipient.UID,
		Text:      text,
		Timestamp: d.now().UTC(),
	}
	entry := func(peer contract.User) contract.RecentMessage {
		return contract.RecentMessage{
			Text:            msg.Text,
			Timestamp:       msg.Timestamp,
			ProfileImageURL: peer.ProfileImageURL,
			Email:           peer.Email,
			FromID:          msg.FromID,
			ToID:            msg.ToID,
		}
	}

	report := newReport()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := d.step(ctx, StepSenderCopy, report, func() error {
			_, err := d.messages.Append(ctx, sender.UID, recipient.UID, msg)
			return err
		})
		if err != nil {
			report.skip(StepSenderRecent)
			return
		}
		d.step(ctx, StepSenderRecent, report, func() error {
			return d.recents.Upsert(ctx, sender.UID, recipient.UID, entry(recipient))
		})
	}()
	go func() {
		defer wg.Done()
		err := d.step(ctx, StepRecipientCopy, report, func() error {
			_, err := d.messages.Append(ctx, recipient.UID, sender.UID, msg)
			return err
		})
		if !d.mirror {
			return
		}
		if err != nil {
			report.skip(StepRecipientRecent)
			return
		}
		d.step(ctx, StepRecipientRecent, report, func() error {
			return d.recents.Upsert(ctx, recipient.UID, sender.UID, entry(sender))
		})
	}()
	wg.Wait()

	if err := report.err(); err != nil {
		for step, stepErr := range report.failed {
			logger.Error("delivery step failed",
				slog.String(log.StepLogField, string(step)),
				log.Err(stepErr),
			)
		}
		return err
	}
	logger.Debug("message delivered")
	return nil
}

// step runs fn, retrying network failures, and records the outcome.
func (d *Dispatcher) step(ctx context.Context, name Step, r *report, fn func() error) error {
	bo := d.backoff
	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if err = fn(); err == nil {
			break
		}
		if attempt == d.attempts || !errors.Is(err, docstore.ErrNetwork) {
			break
		}
		if sleepErr := gax.Sleep(ctx, bo.Pause()); sleepErr != nil {
			break
		}
	}
	r.record(name, err)
	return err
}
