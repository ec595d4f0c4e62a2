package friend

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/friendserver/model"
	"github.com/kasuganosora/friendserver/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestRequestManager(t *testing.T) (*RequestManager, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	return NewRequestManager(db, zap.NewNop()), db
}

func TestSend_CreatesPending(t *testing.T) {
	rm, _ := newTestRequestManager(t)
	ctx := context.Background()

	req, err := rm.Send(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, req.Status)
	assert.Equal(t, "pending", req.StatusText())
	assert.Equal(t, "Alice", req.FromName)
	assert.Equal(t, "Bob", req.ToName)
	assert.Nil(t, req.RespondedAt)
}

func TestSend_SelfRequest(t *testing.T) {
	rm, _ := newTestRequestManager(t)
	_, err := rm.Send(context.Background(), "u1", "Alice", "u1", "Alice")
	assert.ErrorIs(t, err, ErrSelfRequest)
}

func TestSend_DuplicatePending(t *testing.T) {
	rm, _ := newTestRequestManager(t)
	ctx := context.Background()

	_, err := rm.Send(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)

	_, err = rm.Send(ctx, "u1", "Alice", "u2", "Bob")
	assert.ErrorIs(t, err, ErrRequestPending)

	count, err := rm.PendingCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSend_OppositeDirectionAllowed(t *testing.T) {
	rm, _ := newTestRequestManager(t)
	ctx := context.Background()

	_, err := rm.Send(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)

	// A pending u1→u2 request does not block u2→u1.
	_, err = rm.Send(ctx, "u2", "Bob", "u1", "Alice")
	require.NoError(t, err)
}

func TestSend_AfterResolutionAllowed(t *testing.T) {
	rm, _ := newTestRequestManager(t)
	ctx := context.Background()

	_, err := rm.Send(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)
	_, err = rm.Reject(ctx, "u1", "u2")
	require.NoError(t, err)

	// Once the first request is resolved a new one may be sent.
	_, err = rm.Send(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)
}

func TestAccept_MaterializesBothDirections(t *testing.T) {
	rm, db := newTestRequestManager(t)
	ctx := context.Background()

	_, err := rm.Send(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)

	req, err := rm.Accept(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, model.RequestAccepted, req.Status)
	require.NotNil(t, req.RespondedAt)

	fm := NewManager(db, 0, zap.NewNop())
	listA, err := fm.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, listA, 1)
	assert.Equal(t, "u2", listA[0].FriendID)
	assert.Equal(t, "Bob", listA[0].FriendName)

	listB, err := fm.List(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, listB, 1)
	assert.Equal(t, "u1", listB[0].FriendID)
	assert.Equal(t, "Alice", listB[0].FriendName)
}

func TestAccept_NoPendingRequest(t *testing.T) {
	rm, _ := newTestRequestManager(t)
	_, err := rm.Accept(context.Background(), "u1", "u2")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestAccept_Twice(t *testing.T) {
	rm, _ := newTestRequestManager(t)
	ctx := context.Background()

	_, err := rm.Send(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)
	_, err = rm.Accept(ctx, "u1", "u2")
	require.NoError(t, err)

	// A resolved request cannot be accepted again.
	_, err = rm.Accept(ctx, "u1", "u2")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestAccept_ClearsPendingCount(t *testing.T) {
	rm, _ := newTestRequestManager(t)
	ctx := context.Background()

	_, err := rm.Send(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)
	count, err := rm.PendingCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = rm.Accept(ctx, "u1", "u2")
	require.NoError(t, err)

	count, err = rm.PendingCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestReject_Terminal(t *testing.T) {
	rm, db := newTestRequestManager(t)
	ctx := context.Background()

	_, err := rm.Send(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)

	req, err := rm.Reject(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, model.RequestRejected, req.Status)
	require.NotNil(t, req.RespondedAt)

	// No friendship side effect.
	fm := NewManager(db, 0, zap.NewNop())
	ok, err := fm.IsFriend(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.False(t, ok)

	// And no re-accept afterwards.
	_, err = rm.Accept(ctx, "u1", "u2")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestReject_NotFound(t *testing.T) {
	rm, _ := newTestRequestManager(t)
	_, err := rm.Reject(context.Background(), "u1", "u2")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestReceivedAndSent_Listings(t *testing.T) {
	rm, _ := newTestRequestManager(t)
	ctx := context.Background()

	_, err := rm.Send(ctx, "u1", "Alice", "u3", "Carol")
	require.NoError(t, err)
	_, err = rm.Send(ctx, "u2", "Bob", "u3", "Carol")
	require.NoError(t, err)
	_, err = rm.Reject(ctx, "u1", "u3")
	require.NoError(t, err)

	received, err := rm.Received(ctx, "u3")
	require.NoError(t, err)
	// History retained: resolved requests still listed.
	assert.Len(t, received, 2)

	sent, err := rm.Sent(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, model.RequestRejected, sent[0].Status)
}

func TestFind_PendingOnly(t *testing.T) {
	rm, _ := newTestRequestManager(t)
	ctx := context.Background()

	_, err := rm.Send(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)

	req, err := rm.Find(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "u1", req.FromID)

	_, err = rm.Reject(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = rm.Find(ctx, "u1", "u2")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestExpireStale(t *testing.T) {
	rm, db := newTestRequestManager(t)
	ctx := context.Background()

	_, err := rm.Send(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)

	// Backdate the request past the TTL.
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, db.Model(&model.FriendRequest{}).
		Where("from_id = ?", "u1").
		Update("created_at", old).Error)

	expired, err := rm.ExpireStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	count, err := rm.PendingCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestExpireStale_KeepsFresh(t *testing.T) {
	rm, _ := newTestRequestManager(t)
	ctx := context.Background()

	_, err := rm.Send(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)

	expired, err := rm.ExpireStale(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), expired)
}

func TestClear_RemovesAllReferences(t *testing.T) {
	rm, _ := newTestRequestManager(t)
	ctx := context.Background()

	_, err := rm.Send(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)
	_, err = rm.Send(ctx, "u3", "Carol", "u1", "Alice")
	require.NoError(t, err)

	removed, err := rm.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}
