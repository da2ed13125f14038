package flowlog

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/kiln/internal/ledger"
	"github.com/thebtf/kiln/pkg/models"
)

// captureNotifier collects every notified event.
type captureNotifier struct {
	mu     sync.Mutex
	events []*models.FlowEvent
}

func (c *captureNotifier) Notify(ev *models.FlowEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func testLog(t *testing.T) (*Log, *captureNotifier) {
	t.Helper()
	store, err := ledger.NewStore(ledger.Config{
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		MaxConns:   4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	notifier := &captureNotifier{}
	return New(ledger.NewEventStore(store), notifier), notifier
}

func TestAppendAssignsIDAndNotifies(t *testing.T) {
	flow, notifier := testLog(t)
	ctx := context.Background()
	itemID := uuid.NewString()

	ev := &models.FlowEvent{
		ItemID:    itemID,
		SessionID: uuid.NewString(),
		Seq:       1,
		Stage:     models.StageIngested,
		Outcome:   models.OutcomeOK,
	}
	require.NoError(t, flow.Append(ctx, ev))
	assert.NotEmpty(t, ev.EventID)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, ev.EventID, notifier.events[0].EventID)

	got, err := flow.ByItem(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.StageIngested, got[0].Stage)
}

func TestNextSeqAndRecent(t *testing.T) {
	flow, _ := testLog(t)
	ctx := context.Background()
	itemID := uuid.NewString()
	sessionID := uuid.NewString()

	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, flow.Append(ctx, &models.FlowEvent{
			ItemID:    itemID,
			SessionID: sessionID,
			Seq:       seq,
			Stage:     models.StageIngested,
			Outcome:   models.OutcomeOK,
		}))
	}

	next, err := flow.NextSeq(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next)

	recent, err := flow.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
