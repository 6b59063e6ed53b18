package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"kanva/cmd/internal/board"
	v1 "kanva/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "kanva.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// TokenVerifier is the identity collaborator boundary: given a bearer token,
// it yields the authenticated user id or an error. Issuing tokens is not this
// system's concern.
type TokenVerifier interface {
	Verify(token string, now time.Time) (userID string, err error)
}

// WSGateway is the WebSocket entrypoint for Kanva realtime.
//
// It enforces origin policy, subprotocol selection, rate limits, and
// heartbeats, authenticates the session on hello, and routes validated
// command envelopes to the board service, acknowledging the originator
// directly and broadcasting the resulting delta to the board's room.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	registry *Registry
	presence *Presence
	boards   *board.Service
	verifier TokenVerifier
	metrics  *Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
// Nil hub/registry/presence/metrics fall back to fresh instances; a nil
// boards service falls back to an in-memory store for dev.
func NewWSGateway(
	log *slog.Logger,
	hub *Hub,
	registry *Registry,
	presence *Presence,
	boards *board.Service,
	verifier TokenVerifier,
	metrics *Metrics,
) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if registry == nil {
		registry = NewRegistry(log)
	}
	if presence == nil {
		presence = NewPresence(0, 0)
	}
	if boards == nil {
		boards, _ = board.NewService(log, board.NewInMemoryStore())
	}

	g := &WSGateway{
		log:      log,
		hub:      hub,
		registry: registry,
		presence: presence,
		boards:   boards,
		verifier: verifier,
		metrics:  metrics,
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("KANVA_WS_DEV_INSECURE", false)

	if g.verifier == nil {
		g.verifier = devVerifier{}
	}

	g.originRequired = envBoolWS("KANVA_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("KANVA_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("KANVA_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("KANVA_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("KANVA_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("KANVA_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("KANVA_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("KANVA_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("KANVA_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// devVerifier accepts "dev:<user_id>" tokens. It is the fallback when no
// identity collaborator is wired (local development only).
type devVerifier struct{}

func (devVerifier) Verify(token string, _ time.Time) (string, error) {
	userID, ok := strings.CutPrefix(strings.TrimSpace(token), "dev:")
	if !ok || userID == "" {
		return "", errors.New("invalid token")
	}
	return userID, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// Run sweeps expired presence/typing entries until ctx is done. Cleared
// typing markers are broadcast as editing=false so peers converge without an
// explicit stop event.
func (g *WSGateway) Run(ctx context.Context) {
	t := time.NewTicker(janitorInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			now := time.Now().UTC()
			cleared, changedBoards := g.presence.Sweep(now)

			for _, c := range cleared {
				env, err := g.newEvent(v1.TypeTypingState, c.BoardID, "", v1.TypingStatePayload{
					BoardID: c.BoardID,
					TaskID:  c.TaskID,
					UserID:  c.UserID,
					Editing: false,
				})
				if err != nil {
					continue
				}
				g.hub.Broadcast(c.BoardID, env, "")
			}

			for _, boardID := range changedBoards {
				g.broadcastPresence(boardID, now)
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocolV1},

		// Authorize allowed origin hosts (e.g. localhost) for cross-origin requests.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session id")
		return
	}
	client := NewClient("", sessionID, g.sendQueueSize)

	g.metrics.connOpened()
	defer g.metrics.connClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		closeOnce sync.Once
		joined    *Room
		authed    bool
	)

	// shutdown is idempotent. It does NOT close client.Send.
	// Broadcast safety: client.Send remains open and membership removal happens before client.Close.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if joined != nil {
				joined.Leave(sessionID)
				g.presence.Forget(joined.BoardID, client.UserID)
				g.broadcastPresence(joined.BoardID, time.Now().UTC())
				joined = nil
			}
			g.registry.Remove(sessionID)

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		if env.Type == v1.TypeHello {
			// The handshake is one-shot. Accepting a second hello would
			// reassign the client's identity after the registry and rooms
			// already hold it under the first one.
			if authed {
				g.trySendError(ctx, client, "hello_failed", "already authenticated")
				shutdown(websocket.StatusPolicyViolation, "duplicate hello")
				break readLoop
			}
			if err := g.onHello(ctx, client, env, now); err != nil {
				g.trySendError(ctx, client, "hello_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}
			authed = true
			continue readLoop
		}

		if !authed {
			g.trySendError(ctx, client, "not_authenticated", "hello first")
			continue readLoop
		}

		switch env.Type {
		case v1.TypeBoardJoin:
			room, err := g.onJoin(ctx, client, env, now)
			if err != nil {
				g.nack(ctx, client, env.ID, err)
				g.metrics.command(env.Type, false)
				continue readLoop
			}

			// Ensure membership stability: leave old room before switching.
			if joined != nil && joined.BoardID != room.BoardID {
				joined.Leave(sessionID)
				g.presence.Forget(joined.BoardID, client.UserID)
				g.broadcastPresence(joined.BoardID, now)
			}
			joined = room
			g.metrics.command(env.Type, true)

		case v1.TypeBoardLeave:
			if joined != nil {
				boardID := joined.BoardID
				joined.Leave(sessionID)
				g.presence.Forget(boardID, client.UserID)
				g.broadcastPresence(boardID, now)
				joined = nil
			}
			g.ack(ctx, client, env.ID, nil)
			g.metrics.command(env.Type, true)

		case v1.TypePresencePing:
			g.onPresencePing(client, env, now)

		case v1.TypeTyping:
			g.onTyping(client, env, now)

		default:
			if v1.IsMutation(env.Type) {
				g.onMutation(ctx, client, env, now)
				continue readLoop
			}
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handshake and room handlers ----

func (g *WSGateway) onHello(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	userID, err := g.verifier.Verify(p.Token, now)
	if err != nil {
		return fmt.Errorf("verify token: %w", err)
	}

	// UserID is written exactly once, before the client is shared with the
	// registry or any room.
	client.UserID = userID
	g.registry.Add(client)

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{SessionID: client.SessionID, UserID: userID})
	ack, err := g.newEvent(v1.TypeHelloAck, "", "", nil)
	if err != nil {
		return err
	}
	ack.Payload = ackPayload

	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: hello_ack")
	}

	g.log.Info("ws.hello", "session_id", client.SessionID, "user_id", userID)
	return nil
}

func (g *WSGateway) onJoin(ctx context.Context, client *Client, env v1.Envelope, now time.Time) (*Room, error) {
	var p v1.BoardJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, board.OpError{Op: "realtime.onJoin", Kind: board.ErrInvalidInput, Msg: "invalid payload"}
	}
	boardID := strings.TrimSpace(p.BoardID)
	if boardID == "" {
		return nil, board.OpError{Op: "realtime.onJoin", Kind: board.ErrInvalidInput, Msg: "missing board_id"}
	}

	// Joining requires the evaluator's view check.
	b, _, err := g.boards.GetBoard(ctx, boardID, client.UserID)
	if err != nil {
		return nil, err
	}

	room := g.hub.GetOrCreateRoom(boardID)
	room.Join(client)

	g.ack(ctx, client, env.ID, nil)

	statePayload, _ := json.Marshal(v1.BoardStatePayload{Board: b.Wire()})
	state, err := g.newEvent(v1.TypeBoardState, boardID, "", nil)
	if err != nil {
		room.Leave(client.SessionID)
		return nil, err
	}
	state.Payload = statePayload

	if !g.enqueue(ctx, client, state) {
		room.Leave(client.SessionID)
		return nil, errors.New("backpressure: board_state")
	}

	g.presence.Touch(boardID, client.UserID, now)
	g.broadcastPresence(boardID, now)

	return room, nil
}

// ---- presence handlers ----

func (g *WSGateway) onPresencePing(client *Client, env v1.Envelope, now time.Time) {
	var p v1.PresencePingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || strings.TrimSpace(p.BoardID) == "" {
		return
	}
	g.presence.Touch(p.BoardID, client.UserID, now)
	g.broadcastPresence(p.BoardID, now)
}

func (g *WSGateway) onTyping(client *Client, env v1.Envelope, now time.Time) {
	var p v1.TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.TaskID == "" {
		return
	}

	g.presence.SetTyping(p.BoardID, p.TaskID, client.UserID, p.Editing, now)

	out, err := g.newEvent(v1.TypeTypingState, p.BoardID, client.SessionID, v1.TypingStatePayload{
		BoardID: p.BoardID,
		TaskID:  p.TaskID,
		UserID:  client.UserID,
		Editing: p.Editing,
	})
	if err != nil {
		return
	}
	g.hub.Broadcast(p.BoardID, out, client.SessionID)
	g.metrics.broadcast()
}

func (g *WSGateway) broadcastPresence(boardID string, now time.Time) {
	users := g.presence.Snapshot(boardID, now)
	env, err := g.newEvent(v1.TypePresenceState, boardID, "", v1.PresenceStatePayload{
		BoardID: boardID,
		Users:   users,
	})
	if err != nil {
		return
	}
	g.hub.Broadcast(boardID, env, "")
}

// ---- mutation dispatch ----

// onMutation routes a mutation command to its board service handler. The
// originator receives exactly one ack (success or failure); on success the
// delta is broadcast to the board's room, excluding the originator, with the
// originating session id carried on the event for client-side echo
// suppression. A failed command never broadcasts anything.
func (g *WSGateway) onMutation(ctx context.Context, client *Client, env v1.Envelope, now time.Time) {
	userID := client.UserID

	var (
		boardID   string
		eventType string
		result    any
		err       error
	)

	switch env.Type {
	case v1.TypeTaskCreate:
		var p v1.TaskCreatePayload
		if err = decodePayload(env.Payload, &p); err == nil {
			var out v1.TaskCreatedPayload
			out, err = g.boards.CreateTask(ctx, userID, board.CreateTaskInput{
				BoardID:     p.BoardID,
				ColumnID:    p.ColumnID,
				Title:       p.Title,
				Description: p.Description,
				Priority:    p.Priority,
				AssigneeID:  p.AssigneeID,
				DueDate:     p.DueDate,
			})
			boardID, eventType, result = out.BoardID, v1.TypeTaskCreated, out
		}

	case v1.TypeTaskUpdate:
		var p v1.TaskUpdatePayload
		if err = decodePayload(env.Payload, &p); err == nil {
			var out v1.TaskUpdatedPayload
			out, err = g.boards.UpdateTask(ctx, userID, board.UpdateTaskInput{
				BoardID: p.BoardID,
				TaskID:  p.TaskID,
				Patch:   p.Patch,
			})
			boardID, eventType, result = out.BoardID, v1.TypeTaskUpdated, out
		}

	case v1.TypeTaskDelete:
		var p v1.TaskDeletePayload
		if err = decodePayload(env.Payload, &p); err == nil {
			var out v1.TaskDeletedPayload
			out, err = g.boards.DeleteTask(ctx, userID, p)
			boardID, eventType, result = out.BoardID, v1.TypeTaskDeleted, out
		}

	case v1.TypeTaskMove:
		var p v1.TaskMovePayload
		if err = decodePayload(env.Payload, &p); err == nil {
			var out v1.TaskMovedPayload
			out, err = g.boards.MoveTask(ctx, userID, board.MoveTaskInput{
				BoardID:    p.BoardID,
				TaskID:     p.TaskID,
				ToColumnID: p.ToColumnID,
				ToIndex:    p.ToIndex,
			})
			boardID, eventType, result = out.BoardID, v1.TypeTaskMoved, out
		}

	case v1.TypeTaskReorder:
		var p v1.TaskReorderPayload
		if err = decodePayload(env.Payload, &p); err == nil {
			var out v1.TaskReorderedPayload
			out, err = g.boards.ReorderTasks(ctx, userID, board.ReorderTasksInput{
				BoardID:  p.BoardID,
				ColumnID: p.ColumnID,
				TaskIDs:  p.TaskIDs,
			})
			boardID, eventType, result = out.BoardID, v1.TypeTaskReordered, out
		}

	case v1.TypeColumnCreate:
		var p v1.ColumnCreatePayload
		if err = decodePayload(env.Payload, &p); err == nil {
			var out v1.ColumnCreatedPayload
			out, err = g.boards.CreateColumn(ctx, userID, p)
			boardID, eventType, result = out.BoardID, v1.TypeColumnCreated, out
		}

	case v1.TypeColumnUpdate:
		var p v1.ColumnUpdatePayload
		if err = decodePayload(env.Payload, &p); err == nil {
			var out v1.ColumnUpdatedPayload
			out, err = g.boards.UpdateColumn(ctx, userID, p)
			boardID, eventType, result = out.BoardID, v1.TypeColumnUpdated, out
		}

	case v1.TypeColumnDelete:
		var p v1.ColumnDeletePayload
		if err = decodePayload(env.Payload, &p); err == nil {
			var out v1.ColumnDeletedPayload
			out, err = g.boards.DeleteColumn(ctx, userID, p)
			boardID, eventType, result = out.BoardID, v1.TypeColumnDeleted, out
		}

	case v1.TypeColumnReorder:
		var p v1.ColumnReorderPayload
		if err = decodePayload(env.Payload, &p); err == nil {
			var out v1.ColumnReorderedPayload
			out, err = g.boards.ReorderColumns(ctx, userID, p)
			boardID, eventType, result = out.BoardID, v1.TypeColumnReordered, out
		}

	case v1.TypeMemberAdd:
		var p v1.MemberAddPayload
		if err = decodePayload(env.Payload, &p); err == nil {
			var out v1.MemberAddedPayload
			out, err = g.boards.AddMember(ctx, userID, p)
			boardID, eventType, result = out.BoardID, v1.TypeMemberAdded, out
		}

	case v1.TypeMemberRemove:
		var p v1.MemberRemovePayload
		if err = decodePayload(env.Payload, &p); err == nil {
			var out v1.MemberRemovedPayload
			out, err = g.boards.RemoveMember(ctx, userID, p)
			boardID, eventType, result = out.BoardID, v1.TypeMemberRemoved, out
			if err == nil {
				defer g.notifyAccessRevoked(out.BoardID, out.UserID, "removed from board")
			}
		}

	case v1.TypeMemberChangeRole:
		var p v1.MemberChangeRolePayload
		if err = decodePayload(env.Payload, &p); err == nil {
			var out v1.MemberRoleChangedPayload
			out, err = g.boards.ChangeMemberRole(ctx, userID, p)
			boardID, eventType, result = out.BoardID, v1.TypeMemberRoleChanged, out
			if err == nil {
				// Direct delivery: the target must learn about the change even
				// when they are not joined to the board's room.
				defer g.directEvent(out.Member.UserID, v1.TypeMemberRoleChanged, out.BoardID, out)
			}
		}

	case v1.TypeBoardUpdate:
		var p v1.BoardUpdatePayload
		if err = decodePayload(env.Payload, &p); err == nil {
			var out v1.BoardUpdatedPayload
			out, err = g.boards.UpdateBoard(ctx, userID, board.UpdateBoardInput{
				BoardID: p.BoardID,
				Patch:   p.Patch,
			})
			boardID, eventType, result = out.BoardID, v1.TypeBoardUpdated, out
		}

	case v1.TypeBoardDelete:
		var p v1.BoardDeletePayload
		if err = decodePayload(env.Payload, &p); err == nil {
			var out v1.BoardDeletedPayload
			out, err = g.boards.DeleteBoard(ctx, userID, p.BoardID)
			boardID, eventType, result = out.BoardID, v1.TypeBoardDeleted, out
		}

	default:
		err = board.OpError{Op: "realtime.onMutation", Kind: board.ErrInvalidInput, Msg: "unsupported type: " + env.Type}
	}

	if err != nil {
		g.nack(ctx, client, env.ID, err)
		g.metrics.command(env.Type, false)
		return
	}

	g.ack(ctx, client, env.ID, result)
	g.metrics.command(env.Type, true)

	event, evErr := g.newEvent(eventType, boardID, client.SessionID, result)
	if evErr != nil {
		g.log.Error("ws.event.encode.fail", "type", eventType, "err", evErr)
		return
	}
	g.hub.Broadcast(boardID, event, client.SessionID)
	g.metrics.broadcast()

	if env.Type == v1.TypeBoardDelete {
		g.hub.DropRoom(boardID)
	}
}

// notifyAccessRevoked tells every live connection of a user that they lost
// access to a board, regardless of room membership.
func (g *WSGateway) notifyAccessRevoked(boardID, userID, reason string) {
	env, err := g.newEvent(v1.TypeAccessRevoked, boardID, "", v1.AccessRevokedPayload{
		BoardID: boardID,
		UserID:  userID,
		Reason:  reason,
	})
	if err != nil {
		return
	}
	g.registry.DirectTo(userID, env)
	g.presence.Forget(boardID, userID)
}

func (g *WSGateway) directEvent(userID, eventType, boardID string, payload any) {
	env, err := g.newEvent(eventType, boardID, "", payload)
	if err != nil {
		return
	}
	g.registry.DirectTo(userID, env)
}

// NotifyAccessRevoked is the REST surface's entry to the same direct-delivery
// path used by socket commands.
func (g *WSGateway) NotifyAccessRevoked(boardID, userID, reason string) {
	g.notifyAccessRevoked(boardID, userID, reason)
}

// BroadcastEvent fans a mutation delta out to a board's room on behalf of the
// REST surface, so socket-connected peers converge on REST-origin mutations.
// A REST caller has no session id, so no connection is excluded.
func (g *WSGateway) BroadcastEvent(eventType, boardID string, payload any) {
	env, err := g.newEvent(eventType, boardID, "", payload)
	if err != nil {
		g.log.Error("ws.event.encode.fail", "type", eventType, "err", err)
		return
	}
	g.hub.Broadcast(boardID, env, "")
	g.metrics.broadcast()

	if eventType == v1.TypeBoardDeleted {
		g.hub.DropRoom(boardID)
	}
}

// ---- send helpers ----

func (g *WSGateway) ack(ctx context.Context, client *Client, ref string, result any) {
	p := v1.AckPayload{Ref: ref, Success: true}
	if result != nil {
		if raw, err := json.Marshal(result); err == nil {
			p.Result = raw
		}
	}
	env, err := g.newEvent(v1.TypeAck, "", "", p)
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) nack(ctx context.Context, client *Client, ref string, cmdErr error) {
	env, err := g.newEvent(v1.TypeAck, "", "", v1.AckPayload{
		Ref:     ref,
		Success: false,
		Error:   board.UserMessage(cmdErr),
	})
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	env, err := g.newEvent(v1.TypeError, "", "", v1.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func (g *WSGateway) newEvent(typ, boardID, origin string, payload any) (v1.Envelope, error) {
	now := time.Now().UTC()
	id, err := NewEnvelopeID(now)
	if err != nil {
		return v1.Envelope{}, err
	}

	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		BoardID: boardID,
		Origin:  origin,
		TS:      now,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return v1.Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return board.OpError{Op: "realtime.decodePayload", Kind: board.ErrInvalidInput, Msg: "missing payload"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return board.OpError{Op: "realtime.decodePayload", Kind: board.ErrInvalidInput, Msg: "invalid payload"}
	}
	return nil
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
