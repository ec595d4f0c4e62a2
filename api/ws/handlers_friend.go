package ws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/kasuganosora/friendserver/audit"
	"github.com/kasuganosora/friendserver/friend"
	"github.com/kasuganosora/friendserver/player"
	"go.uber.org/zap"
)

// FriendHandlers handles friend and friend-request WebSocket messages.
// The caller's identity always comes from the authenticated session; payload
// fields identify the other party only.
type FriendHandlers struct {
	svc    *friend.Service
	audit  *audit.Service
	logger *zap.Logger
}

// NewFriendHandlers creates FriendHandlers.
func NewFriendHandlers(svc *friend.Service, auditSvc *audit.Service, logger *zap.Logger) *FriendHandlers {
	return &FriendHandlers{svc: svc, audit: auditSvc, logger: logger}
}

// RegisterHandlers registers all friend WS handlers.
func (h *FriendHandlers) RegisterHandlers(r *Router) {
	r.On("ping", h.HandlePing)
	r.On("friend_list", h.HandleFriendList)
	r.On("friend_add", h.HandleFriendAdd)
	r.On("friend_remove", h.HandleFriendRemove)
	r.On("friend_search", h.HandleFriendSearch)
	r.On("friend_count", h.HandleFriendCount)
	r.On("friend_request_send", h.HandleRequestSend)
	r.On("friend_requests_received", h.HandleRequestsReceived)
	r.On("friend_requests_sent", h.HandleRequestsSent)
	r.On("friend_request_accept", h.HandleRequestAccept)
	r.On("friend_request_reject", h.HandleRequestReject)
	r.On("friend_request_pending_count", h.HandlePendingCount)
}

// reply sends a "<msgType>_result" packet with the given fields.
func reply(s *player.Session, msgType string, fields map[string]interface{}) {
	payload, _ := json.Marshal(fields)
	s.Send(&player.Packet{Type: msgType + "_result", Payload: payload})
}

// replyOK sends a success result, merging extra fields if given.
func replyOK(s *player.Session, msgType string, extra map[string]interface{}) {
	fields := map[string]interface{}{"success": true}
	for k, v := range extra {
		fields[k] = v
	}
	reply(s, msgType, fields)
}

// replyErr maps a manager error onto a failure result. Conflict and
// not-found errors surface their message; anything else is masked as an
// internal error and logged by the caller.
func replyErr(s *player.Session, msgType string, err error) {
	msg := "internal error"
	if friend.IsConflict(err) || friend.IsNotFound(err) {
		msg = err.Error()
	}
	reply(s, msgType, map[string]interface{}{"success": false, "error": msg})
}

// replyMissing sends the required-field validation failure: one field is
// "x is required", several are "x and y are required".
func replyMissing(s *player.Session, msgType string, fields ...string) {
	verb := " is required"
	if len(fields) > 1 {
		verb = " are required"
	}
	reply(s, msgType, map[string]interface{}{
		"success": false,
		"error":   strings.Join(fields, " and ") + verb,
	})
}

// logAction records a mutation in the audit trail.
func (h *FriendHandlers) logAction(ctx context.Context, s *player.Session, action string, req interface{}, err error, start time.Time) {
	entry := audit.Entry{
		TraceID:    TraceIDFromCtx(ctx),
		CharID:     s.CharID,
		CharName:   s.CharName,
		Action:     action,
		Request:    req,
		Response:   map[string]bool{"success": err == nil},
		DurationMs: int(time.Since(start).Milliseconds()),
	}
	if acct := s.AccountID; acct != 0 {
		entry.AccountID = &acct
	}
	if err != nil {
		entry.Error = err.Error()
	}
	h.audit.Log(entry)
}

type pingPayload struct {
	ClientTS int64 `json:"client_ts"`
}

// HandlePing answers a client heartbeat.
func (h *FriendHandlers) HandlePing(_ context.Context, s *player.Session, raw json.RawMessage) error {
	var req pingPayload
	_ = json.Unmarshal(raw, &req)
	s.SendHeartbeatPong(req.ClientTS)
	return nil
}

// HandleFriendList returns the caller's full friend list.
func (h *FriendHandlers) HandleFriendList(ctx context.Context, s *player.Session, _ json.RawMessage) error {
	list, err := h.svc.FriendList(ctx, s.CharID)
	if err != nil {
		replyErr(s, "friend_list", err)
		return err
	}
	replyOK(s, "friend_list", map[string]interface{}{"friendList": list})
	return nil
}

type friendAddPayload struct {
	FriendID   string `json:"friendId"`
	FriendName string `json:"friendName"`
}

// HandleFriendAdd creates a one-directional friendship record directly.
func (h *FriendHandlers) HandleFriendAdd(ctx context.Context, s *player.Session, raw json.RawMessage) error {
	start := time.Now()
	var req friendAddPayload
	if err := json.Unmarshal(raw, &req); err != nil || req.FriendID == "" {
		replyMissing(s, "friend_add", "friendId")
		return nil
	}

	f, err := h.svc.AddFriend(ctx, s.CharID, req.FriendID, req.FriendName)
	h.logAction(ctx, s, "friend_add", req, err, start)
	if err != nil {
		replyErr(s, "friend_add", err)
		return nil
	}
	replyOK(s, "friend_add", map[string]interface{}{"friend": f})
	return nil
}

type friendRemovePayload struct {
	FriendID string `json:"friendId"`
}

// HandleFriendRemove removes the caller's directional record only.
func (h *FriendHandlers) HandleFriendRemove(ctx context.Context, s *player.Session, raw json.RawMessage) error {
	start := time.Now()
	var req friendRemovePayload
	if err := json.Unmarshal(raw, &req); err != nil || req.FriendID == "" {
		replyMissing(s, "friend_remove", "friendId")
		return nil
	}

	err := h.svc.RemoveFriend(ctx, s.CharID, req.FriendID)
	h.logAction(ctx, s, "friend_remove", req, err, start)
	if err != nil {
		replyErr(s, "friend_remove", err)
		return nil
	}
	replyOK(s, "friend_remove", nil)
	return nil
}

type friendSearchPayload struct {
	Query string `json:"query"`
}

// HandleFriendSearch matches the caller's friend names, case-insensitive.
func (h *FriendHandlers) HandleFriendSearch(ctx context.Context, s *player.Session, raw json.RawMessage) error {
	var req friendSearchPayload
	if err := json.Unmarshal(raw, &req); err != nil || req.Query == "" {
		replyMissing(s, "friend_search", "query")
		return nil
	}

	results, err := h.svc.SearchFriends(ctx, s.CharID, req.Query)
	if err != nil {
		replyErr(s, "friend_search", err)
		return err
	}
	replyOK(s, "friend_search", map[string]interface{}{"results": results})
	return nil
}

// HandleFriendCount returns the caller's friend count.
func (h *FriendHandlers) HandleFriendCount(ctx context.Context, s *player.Session, _ json.RawMessage) error {
	count, err := h.svc.FriendCount(ctx, s.CharID)
	if err != nil {
		replyErr(s, "friend_count", err)
		return err
	}
	replyOK(s, "friend_count", map[string]interface{}{"count": count})
	return nil
}

type requestSendPayload struct {
	ToID   string `json:"toId"`
	ToName string `json:"toName"`
}

// HandleRequestSend creates a pending friend request to the target.
func (h *FriendHandlers) HandleRequestSend(ctx context.Context, s *player.Session, raw json.RawMessage) error {
	start := time.Now()
	var req requestSendPayload
	if err := json.Unmarshal(raw, &req); err != nil || req.ToID == "" {
		replyMissing(s, "friend_request_send", "toId")
		return nil
	}

	fr, err := h.svc.SendRequest(ctx, s.CharID, s.CharName, req.ToID, req.ToName)
	h.logAction(ctx, s, "friend_request_send", req, err, start)
	if err != nil {
		replyErr(s, "friend_request_send", err)
		return nil
	}
	replyOK(s, "friend_request_send", map[string]interface{}{"request": fr})
	return nil
}

// HandleRequestsReceived lists requests addressed to the caller, newest first.
func (h *FriendHandlers) HandleRequestsReceived(ctx context.Context, s *player.Session, _ json.RawMessage) error {
	reqs, err := h.svc.ReceivedRequests(ctx, s.CharID)
	if err != nil {
		replyErr(s, "friend_requests_received", err)
		return err
	}
	replyOK(s, "friend_requests_received", map[string]interface{}{"requests": reqs})
	return nil
}

// HandleRequestsSent lists requests authored by the caller, newest first.
func (h *FriendHandlers) HandleRequestsSent(ctx context.Context, s *player.Session, _ json.RawMessage) error {
	reqs, err := h.svc.SentRequests(ctx, s.CharID)
	if err != nil {
		replyErr(s, "friend_requests_sent", err)
		return err
	}
	replyOK(s, "friend_requests_sent", map[string]interface{}{"requests": reqs})
	return nil
}

type requestRespondPayload struct {
	FromID string `json:"fromId"`
}

// HandleRequestAccept accepts the pending request sent by fromId to the
// caller, materializing both friendship directions.
func (h *FriendHandlers) HandleRequestAccept(ctx context.Context, s *player.Session, raw json.RawMessage) error {
	start := time.Now()
	var req requestRespondPayload
	if err := json.Unmarshal(raw, &req); err != nil || req.FromID == "" {
		replyMissing(s, "friend_request_accept", "fromId")
		return nil
	}

	fr, err := h.svc.AcceptRequest(ctx, req.FromID, s.CharID)
	h.logAction(ctx, s, "friend_request_accept", req, err, start)
	if err != nil {
		replyErr(s, "friend_request_accept", err)
		return nil
	}
	replyOK(s, "friend_request_accept", map[string]interface{}{"request": fr})
	return nil
}

// HandleRequestReject rejects the pending request sent by fromId to the caller.
func (h *FriendHandlers) HandleRequestReject(ctx context.Context, s *player.Session, raw json.RawMessage) error {
	start := time.Now()
	var req requestRespondPayload
	if err := json.Unmarshal(raw, &req); err != nil || req.FromID == "" {
		replyMissing(s, "friend_request_reject", "fromId")
		return nil
	}

	fr, err := h.svc.RejectRequest(ctx, req.FromID, s.CharID)
	h.logAction(ctx, s, "friend_request_reject", req, err, start)
	if err != nil {
		replyErr(s, "friend_request_reject", err)
		return nil
	}
	replyOK(s, "friend_request_reject", map[string]interface{}{"request": fr})
	return nil
}

// HandlePendingCount returns the caller's unresolved received request count.
func (h *FriendHandlers) HandlePendingCount(ctx context.Context, s *player.Session, _ json.RawMessage) error {
	count, err := h.svc.PendingRequestCount(ctx, s.CharID)
	if err != nil {
		replyErr(s, "friend_request_pending_count", err)
		return err
	}
	replyOK(s, "friend_request_pending_count", map[string]interface{}{"count": count})
	return nil
}
