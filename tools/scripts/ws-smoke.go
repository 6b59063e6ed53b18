// Package main provides a CI-friendly WebSocket smoke test for Kanva realtime.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/hello_ack session establishment
//   - board creation over REST, then board_join + board_state over WS
//   - command -> exactly one ack with a result payload
//   - echo suppression (no broadcast back to the originator)
//   - fanout of task_created / task_moved to the other client
//   - typing_state propagation
//
// Requires a server running with KANVA_AUTH_DEV_MODE=true.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "kanva/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "kanva.realtime.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string
	userID    string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		httpURL = flag.String("http", "http://127.0.0.1:8080", "HTTP base URL")
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		tokenA  = flag.String("token-a", "dev:alice", "Bearer token for client A (board owner)")
		tokenB  = flag.String("token-b", "dev:bob", "Bearer token for client B (editor)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	boardID, columns := mustCreateBoard(root, *httpURL, *tokenA, *timeout)
	if len(columns) < 2 {
		fatalf("expected default columns on new board, got %d", len(columns))
	}
	if *verbose {
		fmt.Printf("board created: id=%s columns=%d\n", boardID, len(columns))
	}

	a := mustConnect(root, "A", *wsURL, *origin, *tokenA, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *tokenB, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s(%s) B=%s(%s) origin=%q\n", a.sessionID, a.userID, b.sessionID, b.userID, *origin)
	}

	// A shares the board with B as editor before B joins.
	mustCommandOK(root, a, v1.TypeMemberAdd, boardID, v1.MemberAddPayload{
		BoardID: boardID,
		UserID:  b.userID,
		Role:    v1.RoleEditor,
	}, *timeout)

	mustJoin(root, a, boardID, *timeout)
	mustJoin(root, b, boardID, *timeout)

	// A creates a task; the ack carries the server-assigned id, B gets the
	// broadcast, and A must NOT see its own task_created.
	createAck := mustCommandOK(root, a, v1.TypeTaskCreate, boardID, v1.TaskCreatePayload{
		BoardID:  boardID,
		ColumnID: columns[0],
		Title:    "Fix bug",
	}, *timeout)

	var created v1.TaskCreatedPayload
	if err := json.Unmarshal(createAck.Result, &created); err != nil {
		fatalf("unmarshal create ack result: %v", err)
	}
	if strings.TrimSpace(created.Task.ID) == "" {
		fatalf("create ack missing task id")
	}

	ev := b.mustReadUntilType(root, v1.TypeTaskCreated, *timeout, presenceTypes())
	var gotCreated v1.TaskCreatedPayload
	if err := json.Unmarshal(ev.Payload, &gotCreated); err != nil {
		fatalf("unmarshal task_created payload (B): %v", err)
	}
	if gotCreated.Task.ID != created.Task.ID {
		fatalf("task_created id mismatch: got=%q want=%q", gotCreated.Task.ID, created.Task.ID)
	}
	if ev.Origin != a.sessionID {
		fatalf("task_created origin mismatch: got=%q want=%q", ev.Origin, a.sessionID)
	}

	mustAssertNoType(root, a, v1.TypeTaskCreated, 1200*time.Millisecond)

	// B moves the task; A applies the broadcast without refetching.
	moveAck := mustCommandOK(root, b, v1.TypeTaskMove, boardID, v1.TaskMovePayload{
		BoardID:    boardID,
		TaskID:     created.Task.ID,
		ToColumnID: columns[1],
		ToIndex:    0,
	}, *timeout)

	var moved v1.TaskMovedPayload
	if err := json.Unmarshal(moveAck.Result, &moved); err != nil {
		fatalf("unmarshal move ack result: %v", err)
	}
	if moved.NewIndex != 0 {
		fatalf("move ack index mismatch: got=%d want=0", moved.NewIndex)
	}

	mv := a.mustReadUntilType(root, v1.TypeTaskMoved, *timeout, presenceTypes())
	var gotMoved v1.TaskMovedPayload
	if err := json.Unmarshal(mv.Payload, &gotMoved); err != nil {
		fatalf("unmarshal task_moved payload (A): %v", err)
	}
	if gotMoved.TaskID != created.Task.ID ||
		gotMoved.FromColumnID != columns[0] ||
		gotMoved.ToColumnID != columns[1] ||
		gotMoved.NewIndex != 0 {
		fatalf("task_moved delta mismatch: %+v", gotMoved)
	}

	// B starts editing; A sees typing_state.
	sendEnvelope(root, b, v1.TypeTyping, boardID, v1.TypingPayload{
		BoardID: boardID,
		TaskID:  created.Task.ID,
		Editing: true,
	}, *timeout)

	ts := a.mustReadUntilType(root, v1.TypeTypingState, *timeout, presenceTypes())
	var typing v1.TypingStatePayload
	if err := json.Unmarshal(ts.Payload, &typing); err != nil {
		fatalf("unmarshal typing_state payload (A): %v", err)
	}
	if typing.TaskID != created.Task.ID || typing.UserID != b.userID || !typing.Editing {
		fatalf("typing_state mismatch: %+v", typing)
	}

	fmt.Printf("OK: A=%s B=%s board_id=%s task_id=%s\n", a.sessionID, b.sessionID, boardID, created.Task.ID)
}

// presenceTypes are expected interleavings that every step tolerates.
func presenceTypes() map[string]struct{} {
	return map[string]struct{}{
		v1.TypePresenceState: {},
		v1.TypeTypingState:   {},
	}
}

func mustCreateBoard(parent context.Context, httpURL, token string, stepTimeout time.Duration) (string, []string) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	body := mustJSON(map[string]any{"name": fmt.Sprintf("Smoke %d", time.Now().UnixNano())})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(httpURL, "/")+"/api/boards", bytes.NewReader(body))
	if err != nil {
		fatalf("build create board request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("create board: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		fatalf("create board status=%d body=%s", resp.StatusCode, raw)
	}

	var out struct {
		Board v1.Board `json:"board"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode create board response: %v", err)
	}

	cols := make([]string, 0, len(out.Board.Columns))
	for _, c := range out.Board.Columns {
		cols = append(cols, c.ID)
	}
	return out.Board.ID, cols
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	hello := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      fmt.Sprintf("%s-hello", name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{Token: token}),
	}
	mustWriteWithTimeout(parent, c.conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id (%s)", name)
	}
	c.sessionID = p.SessionID
	c.userID = p.UserID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustJoin(parent context.Context, c *smokeClient, boardID string, stepTimeout time.Duration) {
	ref := sendEnvelope(parent, c, v1.TypeBoardJoin, boardID, v1.BoardJoinPayload{BoardID: boardID}, stepTimeout)

	ack := c.mustReadAck(parent, ref, stepTimeout)
	if !ack.Success {
		fatalf("join rejected (%s): %s", c.name, ack.Error)
	}

	state := c.mustReadUntilType(parent, v1.TypeBoardState, stepTimeout, presenceTypes())
	var p v1.BoardStatePayload
	if err := json.Unmarshal(state.Payload, &p); err != nil {
		fatalf("unmarshal board_state payload (%s): %v", c.name, err)
	}
	if p.Board.ID != boardID {
		fatalf("board_state id mismatch (%s): got=%q want=%q", c.name, p.Board.ID, boardID)
	}
}

// mustCommandOK sends a command and asserts its single successful ack.
func mustCommandOK(parent context.Context, c *smokeClient, typ, boardID string, payload any, stepTimeout time.Duration) v1.AckPayload {
	ref := sendEnvelope(parent, c, typ, boardID, payload, stepTimeout)

	ack := c.mustReadAck(parent, ref, stepTimeout)
	if !ack.Success {
		fatalf("%s rejected (%s): %s", typ, c.name, ack.Error)
	}
	return ack
}

func sendEnvelope(parent context.Context, c *smokeClient, typ, boardID string, payload any, stepTimeout time.Duration) string {
	ref := fmt.Sprintf("%s-%s-%d", c.name, typ, time.Now().UnixNano())
	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      ref,
		BoardID: boardID,
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
	return ref
}

// mustReadAck waits for the ack whose ref matches, skipping interleaved
// broadcasts.
func (c *smokeClient) mustReadAck(parent context.Context, ref string, stepTimeout time.Duration) v1.AckPayload {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for ack ref=%q (%s): %v", ref, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for ack (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for ack (%s)", c.name)
			}
			if env.Type != v1.TypeAck {
				continue
			}
			var p v1.AckPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				fatalf("unmarshal ack payload (%s): %v", c.name, err)
			}
			if p.Ref == ref {
				return p
			}
		}
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s): echo suppression broken", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == v1.TypeAck {
				continue
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
