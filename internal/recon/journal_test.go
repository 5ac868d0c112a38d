package recon

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_Record(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	journal := NewJournal(db)

	flagged := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	gap := Gap{
		Kind:      KindReconcileFailed,
		OrderID:   42,
		Amount:    decimal.NewFromInt(10000),
		Phone:     "254712345678",
		Reason:    "PATCH /orders/42: connection reset",
		FlaggedAt: flagged,
	}

	b, err := json.Marshal(gap)
	require.NoError(t, err)

	redisMock.ExpectLPush(pendingKey, b).SetVal(1)
	redisMock.ExpectHSet("recon:order:42", "kind", KindReconcileFailed, "flagged_at", flagged.Unix()).SetVal(2)

	require.NoError(t, journal.Record(context.Background(), gap))
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestJournal_Pending(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	journal := NewJournal(db)

	first := Gap{Kind: KindSettlementUnknown, OrderID: 7, Amount: decimal.NewFromInt(2500), Phone: "254700000001", FlaggedAt: time.Unix(1700000000, 0).UTC()}
	second := Gap{Kind: KindReconcileFailed, OrderID: 9, Amount: decimal.NewFromInt(5000), Phone: "254700000002", FlaggedAt: time.Unix(1700000100, 0).UTC()}

	b1, _ := json.Marshal(first)
	b2, _ := json.Marshal(second)

	redisMock.ExpectLRange(pendingKey, 0, -1).SetVal([]string{string(b2), "not json", string(b1)})

	gaps, err := journal.Pending(context.Background())
	require.NoError(t, err)

	// Corrupt entries are skipped, valid ones kept in stored order.
	require.Len(t, gaps, 2)
	assert.Equal(t, 9, gaps[0].OrderID)
	assert.Equal(t, 7, gaps[1].OrderID)
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestJournal_Resolve(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	journal := NewJournal(db)

	redisMock.ExpectDel("recon:order:42").SetVal(1)

	require.NoError(t, journal.Resolve(context.Background(), 42))
	assert.NoError(t, redisMock.ExpectationsWereMet())
}
