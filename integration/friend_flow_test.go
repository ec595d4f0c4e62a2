package integration

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFriendRequestAcceptFlow(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	tokenA, charA, wsA := ts.LoginAndConnect(t, UniqueID("flowA"), UniqueID("Alice"))
	defer wsA.Close()
	tokenB, charB, wsB := ts.LoginAndConnect(t, UniqueID("flowB"), UniqueID("Bob"))
	defer wsB.Close()

	// A sends a friend request to B.
	wsA.Send("friend_request_send", map[string]string{"toId": charB})
	res := PayloadMap(t, wsA.RecvType("friend_request_send_result", 5*time.Second))
	require.Equal(t, true, res["success"])

	// B gets the real-time notification with the pending count.
	notif := PayloadMap(t, wsB.RecvType("friendRequestReceived", 5*time.Second))
	req := notif["request"].(map[string]interface{})
	assert.Equal(t, charA, req["fromId"])
	assert.Equal(t, float64(1), notif["pendingCount"])

	// B accepts.
	wsB.Send("friend_request_accept", map[string]string{"fromId": charA})
	res = PayloadMap(t, wsB.RecvType("friend_request_accept_result", 5*time.Second))
	require.Equal(t, true, res["success"])

	// Both sides receive the accepted notification carrying their own friend list.
	notifA := PayloadMap(t, wsA.RecvType("friendRequestAccepted", 5*time.Second))
	listA := notifA["friendList"].([]interface{})
	require.Len(t, listA, 1)
	assert.Equal(t, charB, listA[0].(map[string]interface{})["friendId"])

	notifB := PayloadMap(t, wsB.RecvType("friendRequestAccepted", 5*time.Second))
	listB := notifB["friendList"].([]interface{})
	require.Len(t, listB, 1)
	assert.Equal(t, charA, listB[0].(map[string]interface{})["friendId"])

	// REST mirror shows the friend as online.
	resp := ts.Get(t, "/api/friends", tokenA)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var friendsResult map[string]interface{}
	ReadJSON(t, resp, &friendsResult)
	friends := friendsResult["friends"].([]interface{})
	require.Len(t, friends, 1)
	entry := friends[0].(map[string]interface{})
	assert.Equal(t, charB, entry["friendId"])
	assert.Equal(t, true, entry["online"])

	resp = ts.Get(t, "/api/friends", tokenB)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ReadJSON(t, resp, &friendsResult)
	assert.Len(t, friendsResult["friends"], 1)
}

func TestFriendRequestRejectNotifiesSender(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	_, charA, wsA := ts.LoginAndConnect(t, UniqueID("rejA"), UniqueID("Carol"))
	defer wsA.Close()
	_, charB, wsB := ts.LoginAndConnect(t, UniqueID("rejB"), UniqueID("Dave"))
	defer wsB.Close()

	wsA.Send("friend_request_send", map[string]string{"toId": charB})
	res := PayloadMap(t, wsA.RecvType("friend_request_send_result", 5*time.Second))
	require.Equal(t, true, res["success"])

	wsB.RecvType("friendRequestReceived", 5*time.Second)
	wsB.Send("friend_request_reject", map[string]string{"fromId": charA})
	res = PayloadMap(t, wsB.RecvType("friend_request_reject_result", 5*time.Second))
	require.Equal(t, true, res["success"])

	notif := PayloadMap(t, wsA.RecvType("friendRequestRejected", 5*time.Second))
	req := notif["request"].(map[string]interface{})
	assert.Equal(t, charB, req["toId"])
	assert.Equal(t, float64(2), req["status"])
}

func TestPresence_OfflineAfterDisconnect(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	_, charA, wsA := ts.LoginAndConnect(t, UniqueID("presA"), UniqueID("Erin"))

	ctx := context.Background()
	require.Eventually(t, func() bool {
		online, err := ts.Tracker.IsOnline(ctx, charA)
		return err == nil && online
	}, 2*time.Second, 20*time.Millisecond)

	wsA.Close()

	require.Eventually(t, func() bool {
		online, err := ts.Tracker.IsOnline(ctx, charA)
		return err == nil && !online
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAdminKickClosesConnection(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	_, charA, wsA := ts.LoginAndConnect(t, UniqueID("kickA"), UniqueID("Frank"))
	defer wsA.Close()

	req, err := http.NewRequest("POST", ts.URL+"/api/admin/characters/"+charA+"/kick", nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Key", testAdminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The connection is closed server-side: the read loop surfaces an error.
	require.Eventually(t, func() bool {
		_, err := wsA.RecvAny(100 * time.Millisecond)
		return err != nil
	}, 3*time.Second, 50*time.Millisecond)
}

// TestSSE_DeliversNotifications verifies the pub/sub fallback path: a client
// holding only an SSE stream still receives friend request events.
func TestSSE_DeliversNotifications(t *testing.T) {
	ts := NewTestServer(t)
	defer ts.Close()

	_, charA, wsA := ts.LoginAndConnect(t, UniqueID("sseA"), UniqueID("Grace"))
	defer wsA.Close()

	// B binds a character but listens over SSE instead of WS.
	tokenB, _ := ts.Login(t, UniqueID("sseB"), "pass1234")
	charB := ts.CreateCharacter(t, tokenB, UniqueID("Heidi"))
	boundB := ts.SelectCharacter(t, tokenB, charB)

	resp, err := http.Get(ts.URL + "/sse?token=" + boundB)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// Wait for the stream handshake.
	waitForLine(t, lines, "event: connected")

	wsA.Send("friend_request_send", map[string]string{"toId": charB})
	res := PayloadMap(t, wsA.RecvType("friend_request_send_result", 5*time.Second))
	require.Equal(t, true, res["success"])

	data := waitForLine(t, lines, "event: friendRequestReceived")
	assert.Contains(t, data, charA)
}

// waitForLine reads lines until the wanted one appears, then returns the next
// data: line's content.
func waitForLine(t *testing.T, lines <-chan string, want string) string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	found := false
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("SSE stream closed while waiting for %q", want)
			}
			if found && strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(line, "data: ")
			}
			if line == want {
				found = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for SSE line %q", want)
		}
	}
}
