package shared

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuditRecordActorFallback(t *testing.T) {
	conn := &recordingExec{}
	logger := NewAuditLogger(conn)

	entry := AuditLog{Action: "ledger:in", Entity: "stock_transaction", EntityID: "t1", Meta: map[string]any{"quantity": "5"}}
	require.NoError(t, logger.Record(context.Background(), entry))
	require.Equal(t, "system", conn.args[0][0])
	require.Nil(t, conn.args[0][5])

	ctx := ContextWithActor(context.Background(), "priya")
	require.NoError(t, logger.Record(ctx, entry))
	require.Equal(t, "priya", conn.args[1][0])

	entry.ActorID = "stockctl"
	entry.At = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, logger.Record(ctx, entry))
	require.Equal(t, "stockctl", conn.args[2][0])
	require.Equal(t, entry.At, conn.args[2][5])
	require.JSONEq(t, `{"quantity":"5"}`, string(conn.args[2][4].([]byte)))
}

func TestAuditRecordRequiresSubject(t *testing.T) {
	logger := NewAuditLogger(&recordingExec{})
	require.Error(t, logger.Record(context.Background(), AuditLog{Action: "ledger:in", Entity: "stock_transaction"}))

	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{Action: "a", Entity: "b", EntityID: "c"}))
}
