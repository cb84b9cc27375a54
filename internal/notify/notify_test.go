package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/slok/slotrunner/internal/model"
	"github.com/slok/slotrunner/internal/notify"
	"github.com/slok/slotrunner/internal/notify/notifymock"
)

func TestMessage(t *testing.T) {
	success := model.NewSuccessOutcome(model.OutcomeMeta{Username: "john"}, model.Booking{
		Confirmation: "ABC123",
		Date:         "2026-11-12",
		Time:         "09:30",
		ProxyRegion:  "al",
	})
	errored := model.NewErroredOutcome(model.OutcomeMeta{Username: "jane"}, model.ErrorKindTimeout, "", "task didn't finish in 10m0s")

	tests := map[string]struct {
		event  notify.Event
		expMsg string
	}{
		"Started events should show the number of accounts": {
			event:  notify.Event{Kind: notify.EventKindStarted, RunID: "r1", Stats: model.NewRunStats(12)},
			expMsg: "🚀 Run r1 started: 12 accounts",
		},
		"Batch status events should show the progress": {
			event: notify.Event{
				Kind:    notify.EventKindBatchStatus,
				Batch:   2,
				Batches: 3,
				Stats:   model.RunStats{Total: 12, Success: 3, Failed: 4, Errored: 3, Pending: 2},
			},
			expMsg: "📦 Batch 2/3 done\n✅ 3  ❌ 4  ⚠️ 3  ⏳ 2  (total 12)",
		},
		"Final batch status events should show the run has finished": {
			event: notify.Event{
				Kind:  notify.EventKindBatchStatus,
				RunID: "r1",
				Final: true,
				Stats: model.RunStats{Total: 2, Success: 2, Retried: 1},
			},
			expMsg: "🏁 Run r1 finished\n✅ 2  ❌ 0  ⚠️ 0  ⏳ 0  (total 2)\n🔁 1 retried",
		},
		"Success events should show the booking": {
			event:  notify.Event{Kind: notify.EventKindSuccess, Outcome: &success},
			expMsg: "✅ john booked 2026-11-12 09:30 (confirmation ABC123) via al",
		},
		"Retry error events should be marked": {
			event:  notify.Event{Kind: notify.EventKindError, Retry: true, Outcome: &errored},
			expMsg: "[retry] ⚠️ jane: timeout: task didn't finish in 10m0s",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expMsg, notify.Message(test.event))
		})
	}
}

func TestMulti(t *testing.T) {
	e := notify.Event{Kind: notify.EventKindStarted, RunID: "r1"}

	n1 := notifymock.NewMockNotifier(t)
	n1.On("Send", mock.Anything, e).Once().Return(errors.New("wanted error"))
	n2 := notifymock.NewMockNotifier(t)
	n2.On("Send", mock.Anything, e).Once().Return(nil)

	err := notify.Multi{n1, notify.Noop, n2}.Send(context.Background(), e)
	assert.ErrorContains(t, err, "wanted error")

	assert.NoError(t, notify.Multi{}.Send(context.Background(), e))
}
