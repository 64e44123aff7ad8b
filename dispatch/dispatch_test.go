package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/klipach/courier/chat"
	"github.com/klipach/courier/contract"
	"github.com/klipach/courier/directory"
	"github.com/klipach/courier/docstore"
	"github.com/klipach/courier/recent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sentAt = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

const statusFailed = "failed"

type fixture struct {
	store    *docstore.Memory
	messages *chat.Store
	recents  *recent.Index
	users    *directory.Directory
}

func newFixture(t *testing.T, opts ...docstore.MemoryOption) *fixture {
	t.Helper()
	store := docstore.NewMemory(opts...)
	f := &fixture{
		store:    store,
		messages: chat.New(store),
		recents:  recent.New(store),
		users:    directory.New(store),
	}
	ctx := context.Background()
	require.NoError(t, f.users.Put(ctx, contract.User{UID: "u1", Email: "a@example.com", ProfileImageURL: "https://img/u1"}))
	require.NoError(t, f.users.Put(ctx, contract.User{UID: "u2", Email: "b@example.com", ProfileImageURL: "https://img/u2"}))
	return f
}

func (f *fixture) dispatcher(opts ...Option) *Dispatcher {
	opts = append([]Option{WithClock(func() time.Time { return sentAt })}, opts...)
	return New(f.messages, f.recents, f.users, opts...)
}

func failOn(path string, err error) docstore.MemoryOption {
	return docstore.WithFault(func(op docstore.Op, p string) error {
		if p == path && (op == docstore.OpAdd || op == docstore.OpSet) {
			return err
		}
		return nil
	})
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.dispatcher().Send(ctx, "u1", "u2", "hello"))

	expected := contract.Message{FromID: "u1", ToID: "u2", Text: "hello", Timestamp: sentAt}
	for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}} {
		history, err := f.messages.History(ctx, pair[0], pair[1])
		require.NoError(t, err)
		require.Len(t, history, 1, "conversation %v", pair)
		got := history[0]
		got.ID = ""
		assert.Equal(t, expected, got)
	}

	entries, err := f.recents.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, contract.RecentMessage{
		PeerID:          "u2",
		Text:            "hello",
		Timestamp:       sentAt,
		ProfileImageURL: "https://img/u2",
		Email:           "b@example.com",
		FromID:          "u1",
		ToID:            "u2",
	}, entries[0])

	entries, err = f.recents.List(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSendMirrored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.dispatcher(WithMirroredRecent()).Send(ctx, "u1", "u2", "hello"))

	entries, err := f.recents.List(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "u1", entries[0].PeerID)
	assert.Equal(t, "hello", entries[0].Text)
	assert.Equal(t, "a@example.com", entries[0].Email)
	assert.Equal(t, "https://img/u1", entries[0].ProfileImageURL)
	assert.Equal(t, "u1", entries[0].FromID)
}

func TestSendEmptyText(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.dispatcher().Send(ctx, "u1", "u2", ""))

	history, err := f.messages.History(ctx, "u2", "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "", history[0].Text)
}

func TestSendReplacesRecentEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.dispatcher()

	require.NoError(t, d.Send(ctx, "u1", "u2", "first"))
	require.NoError(t, d.Send(ctx, "u1", "u2", "second"))

	entries, err := f.recents.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Text)

	history, err := f.messages.History(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSendUnknownRecipient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.dispatcher().Send(ctx, "u1", "u9", "hello")
	assert.ErrorIs(t, err, ErrUnknownRecipient)

	history, err := f.messages.History(ctx, "u1", "u9")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestPartialFailure(t *testing.T) {
	boom := fmt.Errorf("%w: connection reset", docstore.ErrPermission)

	tests := []struct {
		name           string
		failPath       string
		mirror         bool
		expectedStatus map[Step]string
		senderHistory  int
		peerHistory    int
		senderRecents  int
		peerRecents    int
	}{
		{
			name:     "Recipient copy fails",
			failPath: "messages/u2/u1",
			expectedStatus: map[Step]string{
				StepSenderCopy:    statusOK,
				StepSenderRecent:  statusOK,
				StepRecipientCopy: statusFailed,
			},
			senderHistory: 1,
			senderRecents: 1,
		},
		{
			name:     "Sender copy fails and skips sender recent",
			failPath: "messages/u1/u2",
			expectedStatus: map[Step]string{
				StepSenderCopy:    statusFailed,
				StepSenderRecent:  statusSkipped,
				StepRecipientCopy: statusOK,
			},
			peerHistory: 1,
		},
		{
			name:     "Sender recent fails",
			failPath: "recent_messages/u1/messages/u2",
			expectedStatus: map[Step]string{
				StepSenderCopy:    statusOK,
				StepSenderRecent:  statusFailed,
				StepRecipientCopy: statusOK,
			},
			senderHistory: 1,
			peerHistory:   1,
		},
		{
			name:     "Recipient copy fails and skips mirrored recent",
			failPath: "messages/u2/u1",
			mirror:   true,
			expectedStatus: map[Step]string{
				StepSenderCopy:      statusOK,
				StepSenderRecent:    statusOK,
				StepRecipientCopy:   statusFailed,
				StepRecipientRecent: statusSkipped,
			},
			senderHistory: 1,
			senderRecents: 1,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, failOn(test.failPath, boom))
			var opts []Option
			if test.mirror {
				opts = append(opts, WithMirroredRecent())
			}

			err := f.dispatcher(opts...).Send(ctx, "u1", "u2", "hello")
			var deliveryErr *DeliveryError
			require.ErrorAs(t, err, &deliveryErr)
			assert.ErrorIs(t, err, boom)
			assert.ErrorIs(t, err, docstore.ErrPermission)
			status := make(map[Step]string, len(deliveryErr.Status))
			for step, s := range deliveryErr.Status {
				if s != statusOK && s != statusSkipped {
					assert.Contains(t, s, boom.Error())
					s = statusFailed
				}
				status[step] = s
			}
			assert.Equal(t, test.expectedStatus, status)
			assert.Len(t, deliveryErr.Failed, 1)

			count := func(items int, err error) int {
				require.NoError(t, err)
				return items
			}
			h1, err1 := f.messages.History(ctx, "u1", "u2")
			h2, err2 := f.messages.History(ctx, "u2", "u1")
			r1, err3 := f.recents.List(ctx, "u1")
			r2, err4 := f.recents.List(ctx, "u2")
			assert.Equal(t, test.senderHistory, count(len(h1), err1))
			assert.Equal(t, test.peerHistory, count(len(h2), err2))
			assert.Equal(t, test.senderRecents, count(len(r1), err3))
			assert.Equal(t, test.peerRecents, count(len(r2), err4))
		})
	}
}

func TestRetryOnNetworkError(t *testing.T) {
	ctx := context.Background()
	var failures atomic.Int32
	f := newFixture(t, docstore.WithFault(func(op docstore.Op, p string) error {
		if op == docstore.OpAdd && p == "messages/u2/u1" && failures.Add(1) <= 2 {
			return fmt.Errorf("%w: timeout", docstore.ErrNetwork)
		}
		return nil
	}))
	backoff := gax.Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}

	require.NoError(t, f.dispatcher(WithRetry(3, backoff)).Send(ctx, "u1", "u2", "hello"))
	assert.Equal(t, int32(3), failures.Load())

	history, err := f.messages.History(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestNoRetryOnOtherErrors(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	denied := fmt.Errorf("%w: rules", docstore.ErrPermission)
	f := newFixture(t, docstore.WithFault(func(op docstore.Op, p string) error {
		if op == docstore.OpAdd && p == "messages/u2/u1" {
			calls.Add(1)
			return denied
		}
		return nil
	}))
	backoff := gax.Backoff{Initial: time.Millisecond, Max: time.Millisecond}

	err := f.dispatcher(WithRetry(5, backoff)).Send(ctx, "u1", "u2", "hello")
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDeliveryErrorSummary(t *testing.T) {
	r := newReport()
	r.record(StepSenderCopy, nil)
	r.record(StepRecipientCopy, errors.New("unavailable"))
	r.record(StepSenderRecent, nil)

	err := r.err()
	var deliveryErr *DeliveryError
	require.ErrorAs(t, err, &deliveryErr)
	assert.False(t, deliveryErr.Delivered())
	assert.Equal(t, "sender_copy=ok, recipient_copy=unavailable, sender_recent=ok", deliveryErr.Summary())
	assert.Equal(t, "delivery incomplete: recipient_copy: unavailable", err.Error())
	assert.Equal(t, map[string]string{
		"sender_copy":    "ok",
		"recipient_copy": "unavailable",
		"sender_recent":  "ok",
	}, deliveryErr.StatusStrings())

	assert.NoError(t, newReport().err())
}
