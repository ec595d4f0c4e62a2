package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kasuganosora/friendserver/audit"
	"github.com/kasuganosora/friendserver/friend"
	"github.com/kasuganosora/friendserver/model"
	"github.com/kasuganosora/friendserver/player"
	"github.com/kasuganosora/friendserver/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// dropRouter swallows notifications; WS handler tests only care about the
// synchronous reply packets.
type dropRouter struct{}

func (dropRouter) Deliver(_ context.Context, _ string, _ string, _ interface{}) bool { return false }

func newFriendFixture(t *testing.T) (*Router, *friend.Service) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db, 0, dropRouter{}, zap.NewNop())
	auditSvc := audit.New(db, zap.NewNop())
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })

	r := NewRouter(zap.NewNop())
	NewFriendHandlers(svc, auditSvc, zap.NewNop()).RegisterHandlers(r)
	return r, svc
}

// recvResult reads one packet off the session's send channel and decodes the
// result payload.
func recvResult(t *testing.T, s *player.Session, wantType string) map[string]interface{} {
	t.Helper()
	select {
	case raw := <-s.SendChan:
		var pkt player.Packet
		require.NoError(t, json.Unmarshal(raw, &pkt))
		assert.Equal(t, wantType, pkt.Type)
		var fields map[string]interface{}
		require.NoError(t, json.Unmarshal(pkt.Payload, &fields))
		return fields
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s packet", wantType)
		return nil
	}
}

func TestFriendList_Empty(t *testing.T) {
	r, _ := newFriendFixture(t)
	s := newSession(1, "u1", "Alice")

	r.Dispatch(s, makePacket(t, 1, "friend_list", nil))

	res := recvResult(t, s, "friend_list_result")
	assert.Equal(t, true, res["success"])
	assert.Empty(t, res["friendList"])
}

func TestFriendAdd_Success(t *testing.T) {
	r, svc := newFriendFixture(t)
	s := newSession(1, "u1", "Alice")

	r.Dispatch(s, makePacket(t, 1, "friend_add",
		map[string]string{"friendId": "u2", "friendName": "Bob"}))

	res := recvResult(t, s, "friend_add_result")
	assert.Equal(t, true, res["success"])

	list, err := svc.FriendList(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Bob", list[0].FriendName)
}

func TestFriendAdd_MissingField(t *testing.T) {
	r, _ := newFriendFixture(t)
	s := newSession(1, "u1", "Alice")

	r.Dispatch(s, makePacket(t, 1, "friend_add", map[string]string{}))

	res := recvResult(t, s, "friend_add_result")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "friendId is required", res["error"])
}

func TestFriendAdd_Duplicate(t *testing.T) {
	r, _ := newFriendFixture(t)
	s := newSession(1, "u1", "Alice")

	r.Dispatch(s, makePacket(t, 1, "friend_add", map[string]string{"friendId": "u2"}))
	recvResult(t, s, "friend_add_result")

	r.Dispatch(s, makePacket(t, 2, "friend_add", map[string]string{"friendId": "u2"}))
	res := recvResult(t, s, "friend_add_result")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, friend.ErrAlreadyFriends.Error(), res["error"])
}

func TestFriendRemove_NotFound(t *testing.T) {
	r, _ := newFriendFixture(t)
	s := newSession(1, "u1", "Alice")

	r.Dispatch(s, makePacket(t, 1, "friend_remove", map[string]string{"friendId": "u2"}))

	res := recvResult(t, s, "friend_remove_result")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, friend.ErrFriendNotFound.Error(), res["error"])
}

func TestFriendSearch_MissingQuery(t *testing.T) {
	r, _ := newFriendFixture(t)
	s := newSession(1, "u1", "Alice")

	r.Dispatch(s, makePacket(t, 1, "friend_search", map[string]string{}))

	res := recvResult(t, s, "friend_search_result")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "query is required", res["error"])
}

func TestFriendSearch_Matches(t *testing.T) {
	r, svc := newFriendFixture(t)
	s := newSession(1, "u1", "Alice")
	ctx := context.Background()

	_, err := svc.AddFriend(ctx, "u1", "u2", "Bobby")
	require.NoError(t, err)
	_, err = svc.AddFriend(ctx, "u1", "u3", "Carol")
	require.NoError(t, err)

	r.Dispatch(s, makePacket(t, 1, "friend_search", map[string]string{"query": "bob"}))

	res := recvResult(t, s, "friend_search_result")
	assert.Equal(t, true, res["success"])
	results := res["results"].([]interface{})
	assert.Len(t, results, 1)
}

func TestRequestFlow_SendAcceptOverWS(t *testing.T) {
	r, svc := newFriendFixture(t)
	alice := newSession(1, "u1", "Alice")
	bob := newSession(2, "u2", "Bob")
	ctx := context.Background()

	// Alice sends a request to Bob.
	r.Dispatch(alice, makePacket(t, 1, "friend_request_send",
		map[string]string{"toId": "u2", "toName": "Bob"}))
	res := recvResult(t, alice, "friend_request_send_result")
	assert.Equal(t, true, res["success"])
	req := res["request"].(map[string]interface{})
	assert.Equal(t, "u1", req["fromId"])
	assert.Equal(t, "Alice", req["fromName"])

	// Bob sees one pending request.
	r.Dispatch(bob, makePacket(t, 1, "friend_request_pending_count", nil))
	res = recvResult(t, bob, "friend_request_pending_count_result")
	assert.Equal(t, float64(1), res["count"])

	// Bob accepts.
	r.Dispatch(bob, makePacket(t, 2, "friend_request_accept",
		map[string]string{"fromId": "u1"}))
	res = recvResult(t, bob, "friend_request_accept_result")
	assert.Equal(t, true, res["success"])

	// Both directions exist.
	ok, err := svc.IsFriend(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.IsFriend(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRequestAccept_MissingFromID(t *testing.T) {
	r, _ := newFriendFixture(t)
	s := newSession(1, "u1", "Alice")

	r.Dispatch(s, makePacket(t, 1, "friend_request_accept", map[string]string{}))

	res := recvResult(t, s, "friend_request_accept_result")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "fromId is required", res["error"])
}

func TestRequestReject_NotFound(t *testing.T) {
	r, _ := newFriendFixture(t)
	s := newSession(1, "u1", "Alice")

	r.Dispatch(s, makePacket(t, 1, "friend_request_reject",
		map[string]string{"fromId": "u9"}))

	res := recvResult(t, s, "friend_request_reject_result")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, friend.ErrRequestNotFound.Error(), res["error"])
}

func TestRequestSend_SelfRequest(t *testing.T) {
	r, _ := newFriendFixture(t)
	s := newSession(1, "u1", "Alice")

	r.Dispatch(s, makePacket(t, 1, "friend_request_send",
		map[string]string{"toId": "u1"}))

	res := recvResult(t, s, "friend_request_send_result")
	assert.Equal(t, false, res["success"])
	assert.Equal(t, friend.ErrSelfRequest.Error(), res["error"])
}

func TestRequestsReceived_Listing(t *testing.T) {
	r, svc := newFriendFixture(t)
	bob := newSession(2, "u2", "Bob")
	ctx := context.Background()

	_, err := svc.SendRequest(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)
	_, err = svc.SendRequest(ctx, "u3", "Carol", "u2", "Bob")
	require.NoError(t, err)

	r.Dispatch(bob, makePacket(t, 1, "friend_requests_received", nil))

	res := recvResult(t, bob, "friend_requests_received_result")
	assert.Equal(t, true, res["success"])
	reqs := res["requests"].([]interface{})
	assert.Len(t, reqs, 2)
}

func TestFriendCount_AfterAccept(t *testing.T) {
	r, svc := newFriendFixture(t)
	s := newSession(1, "u1", "Alice")
	ctx := context.Background()

	_, err := svc.SendRequest(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)
	_, err = svc.AcceptRequest(ctx, "u1", "u2")
	require.NoError(t, err)

	r.Dispatch(s, makePacket(t, 1, "friend_count", nil))

	res := recvResult(t, s, "friend_count_result")
	assert.Equal(t, true, res["success"])
	assert.Equal(t, float64(1), res["count"])
}

func TestPing_Pong(t *testing.T) {
	r, _ := newFriendFixture(t)
	s := newSession(1, "u1", "Alice")

	r.Dispatch(s, makePacket(t, 1, "ping", map[string]int64{"client_ts": 12345}))

	select {
	case raw := <-s.SendChan:
		var pkt player.Packet
		require.NoError(t, json.Unmarshal(raw, &pkt))
		assert.Equal(t, "pong", pkt.Type)
		var payload map[string]int64
		require.NoError(t, json.Unmarshal(pkt.Payload, &payload))
		assert.Equal(t, int64(12345), payload["client_ts"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pong")
	}
}

func TestAudit_RecordsMutations(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := friend.NewService(db, 0, dropRouter{}, zap.NewNop())
	auditSvc := audit.New(db, zap.NewNop())

	r := NewRouter(zap.NewNop())
	NewFriendHandlers(svc, auditSvc, zap.NewNop()).RegisterHandlers(r)

	s := newSession(1, "u1", "Alice")
	r.Dispatch(s, makePacket(t, 1, "friend_add", map[string]string{"friendId": "u2"}))
	recvResult(t, s, "friend_add_result")

	auditSvc.Stop(context.Background())

	var logs []model.AuditLog
	db.Find(&logs)
	require.Len(t, logs, 1)
	assert.Equal(t, "friend_add", logs[0].Action)
	assert.Equal(t, "u1", logs[0].CharID)
	assert.NotEmpty(t, logs[0].TraceID)
}
