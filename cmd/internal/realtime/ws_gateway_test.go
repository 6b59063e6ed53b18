package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"kanva/cmd/internal/board"
	v1 "kanva/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// These tests exercise the full gateway over a real websocket connection:
// handshake, room membership, command acks, and room fanout. The dev verifier
// accepts "dev:<user>" tokens, so no identity collaborator is needed.

func newWSTestService(t *testing.T) *board.Service {
	t.Helper()
	svc, err := board.NewService(testLogger(), board.NewInMemoryStore())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func newWSTestGateway(t *testing.T, svc *board.Service) *WSGateway {
	t.Helper()
	return NewWSGateway(testLogger(), nil, nil, nil, svc, nil, nil)
}

func startWSTestServer(t *testing.T, gw *WSGateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	return httptest.NewServer(mux)
}

func dialWS(t *testing.T, baseHTTPURL string, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   h,
	})
}

func mustDialWS(t *testing.T, baseHTTPURL string) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialWS(t, baseHTTPURL, "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, env v1.Envelope) {
	t.Helper()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readEnvelopeWS(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func readUntilType(t *testing.T, conn *websocket.Conn, typ string, maxReads int) v1.Envelope {
	t.Helper()
	if maxReads <= 0 {
		maxReads = 1
	}
	for i := 0; i < maxReads; i++ {
		env := readEnvelopeWS(t, conn)
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("did not receive envelope type %q", typ)
	return v1.Envelope{}
}

// collectUntilAck reads envelopes until the ack correlated to ref arrives,
// returning everything read including that ack.
func collectUntilAck(t *testing.T, conn *websocket.Conn, ref string, maxReads int) []v1.Envelope {
	t.Helper()
	var out []v1.Envelope
	for i := 0; i < maxReads; i++ {
		env := readEnvelopeWS(t, conn)
		out = append(out, env)
		if env.Type == v1.TypeAck && decodeAckWS(t, env).Ref == ref {
			return out
		}
	}
	t.Fatalf("did not receive ack for ref %q", ref)
	return nil
}

func decodeAckWS(t *testing.T, env v1.Envelope) v1.AckPayload {
	t.Helper()
	var p v1.AckPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	return p
}

func mustJSONRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return b
}

func helloWS(t *testing.T, conn *websocket.Conn, user string) v1.HelloAckPayload {
	t.Helper()
	writeEnvelopeWS(t, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      "hello-" + user,
		Payload: mustJSONRaw(t, v1.HelloPayload{Token: "dev:" + user}),
	})
	env := readUntilType(t, conn, v1.TypeHelloAck, 4)
	var p v1.HelloAckPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal hello_ack: %v", err)
	}
	return p
}

func joinWS(t *testing.T, conn *websocket.Conn, boardID, ref string) v1.Envelope {
	t.Helper()
	writeEnvelopeWS(t, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeBoardJoin,
		ID:      ref,
		Payload: mustJSONRaw(t, v1.BoardJoinPayload{BoardID: boardID}),
	})
	ack := readUntilType(t, conn, v1.TypeAck, 8)
	if p := decodeAckWS(t, ack); p.Ref != ref || !p.Success {
		t.Fatalf("join ack = %+v", p)
	}
	return readUntilType(t, conn, v1.TypeBoardState, 8)
}

func seedBoard(t *testing.T, svc *board.Service, owner, name string) *board.Board {
	t.Helper()
	b, err := svc.CreateBoard(context.Background(), owner, board.CreateBoardInput{Name: name})
	if err != nil {
		t.Fatalf("CreateBoard: %v", err)
	}
	return b
}

func TestWSGateway_OriginRequiredByDefault(t *testing.T) {
	gw := newWSTestGateway(t, newWSTestService(t))
	ts := startWSTestServer(t, gw)
	defer ts.Close()

	_, resp, err := dialWS(t, ts.URL, "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Fatalf("expected handshake rejection without Origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("expected 403, got status=%d err=%v", status, err)
	}
}

func TestWSGateway_HelloAndJoinDeliversBoardState(t *testing.T) {
	t.Setenv("KANVA_WS_ORIGIN_REQUIRED", "false")

	svc := newWSTestService(t)
	b := seedBoard(t, svc, "alice", "Sprint 12")

	ts := startWSTestServer(t, newWSTestGateway(t, svc))
	defer ts.Close()

	conn := mustDialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	hello := helloWS(t, conn, "alice")
	if hello.UserID != "alice" || hello.SessionID == "" {
		t.Fatalf("hello_ack = %+v", hello)
	}

	state := joinWS(t, conn, b.ID, "join-1")
	var p v1.BoardStatePayload
	if err := json.Unmarshal(state.Payload, &p); err != nil {
		t.Fatalf("unmarshal board_state: %v", err)
	}
	if p.Board.ID != b.ID || len(p.Board.Columns) != 3 {
		t.Fatalf("board_state = %+v", p.Board)
	}
}

func TestWSGateway_JoinGatedOnViewAccess(t *testing.T) {
	t.Setenv("KANVA_WS_ORIGIN_REQUIRED", "false")

	svc := newWSTestService(t)
	b := seedBoard(t, svc, "alice", "Private")

	ts := startWSTestServer(t, newWSTestGateway(t, svc))
	defer ts.Close()

	conn := mustDialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	helloWS(t, conn, "mallory")

	writeEnvelopeWS(t, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeBoardJoin,
		ID:      "join-1",
		Payload: mustJSONRaw(t, v1.BoardJoinPayload{BoardID: b.ID}),
	})

	// A rejected join yields exactly one failed ack and never a snapshot. The
	// leave ack below is the fence: anything the join produced precedes it.
	writeEnvelopeWS(t, conn, v1.Envelope{V: v1.Version, Type: v1.TypeBoardLeave, ID: "leave-1"})

	got := collectUntilAck(t, conn, "leave-1", 16)
	joinAcked := false
	for _, env := range got {
		switch env.Type {
		case v1.TypeBoardState:
			t.Fatalf("stranger received board_state")
		case v1.TypeAck:
			if p := decodeAckWS(t, env); p.Ref == "join-1" {
				if p.Success || p.Error == "" {
					t.Fatalf("join ack = %+v", p)
				}
				joinAcked = true
			}
		}
	}
	if !joinAcked {
		t.Fatalf("no ack for rejected join, got %d envelopes", len(got))
	}
}

func TestWSGateway_MutationAcksOnceAndBroadcastsWithOrigin(t *testing.T) {
	t.Setenv("KANVA_WS_ORIGIN_REQUIRED", "false")

	svc := newWSTestService(t)
	b := seedBoard(t, svc, "alice", "Sprint 12")
	if _, err := svc.AddMember(context.Background(), "alice", v1.MemberAddPayload{
		BoardID: b.ID, UserID: "bob", Role: v1.RoleEditor,
	}); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	ts := startWSTestServer(t, newWSTestGateway(t, svc))
	defer ts.Close()

	alice := mustDialWS(t, ts.URL)
	defer alice.Close(websocket.StatusNormalClosure, "done")
	bob := mustDialWS(t, ts.URL)
	defer bob.Close(websocket.StatusNormalClosure, "done")

	aliceHello := helloWS(t, alice, "alice")
	helloWS(t, bob, "bob")
	joinWS(t, alice, b.ID, "join-a")
	joinWS(t, bob, b.ID, "join-b")

	writeEnvelopeWS(t, alice, v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeTaskCreate,
		ID:   "mut-1",
		Payload: mustJSONRaw(t, v1.TaskCreatePayload{
			BoardID: b.ID, ColumnID: b.Columns[0].ID, Title: "ship it",
		}),
	})
	writeEnvelopeWS(t, alice, v1.Envelope{V: v1.Version, Type: v1.TypeBoardLeave, ID: "leave-1"})

	got := collectUntilAck(t, alice, "leave-1", 24)
	acks := 0
	for _, env := range got {
		switch env.Type {
		case v1.TypeTaskCreated:
			// Broadcast excludes the originator; the result rides the ack.
			t.Fatalf("originator received its own broadcast")
		case v1.TypeAck:
			p := decodeAckWS(t, env)
			if p.Ref != "mut-1" {
				continue
			}
			acks++
			if !p.Success || len(p.Result) == 0 {
				t.Fatalf("mutation ack = %+v", p)
			}
			var res v1.TaskCreatedPayload
			if err := json.Unmarshal(p.Result, &res); err != nil {
				t.Fatalf("unmarshal ack result: %v", err)
			}
			if res.Task.Title != "ship it" {
				t.Fatalf("ack result = %+v", res)
			}
		}
	}
	if acks != 1 {
		t.Fatalf("acks for mut-1 = %d, want exactly 1", acks)
	}

	event := readUntilType(t, bob, v1.TypeTaskCreated, 16)
	if event.Origin != aliceHello.SessionID || event.BoardID != b.ID {
		t.Fatalf("event origin = %q board = %q", event.Origin, event.BoardID)
	}
	var created v1.TaskCreatedPayload
	if err := json.Unmarshal(event.Payload, &created); err != nil {
		t.Fatalf("unmarshal task_created: %v", err)
	}
	if created.Task.Title != "ship it" {
		t.Fatalf("task_created = %+v", created)
	}
}

func TestWSGateway_RejectedMutationNacksWithoutBroadcast(t *testing.T) {
	t.Setenv("KANVA_WS_ORIGIN_REQUIRED", "false")

	svc := newWSTestService(t)
	b := seedBoard(t, svc, "alice", "Sprint 12")
	if _, err := svc.AddMember(context.Background(), "alice", v1.MemberAddPayload{
		BoardID: b.ID, UserID: "vera", Role: v1.RoleViewer,
	}); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	ts := startWSTestServer(t, newWSTestGateway(t, svc))
	defer ts.Close()

	alice := mustDialWS(t, ts.URL)
	defer alice.Close(websocket.StatusNormalClosure, "done")
	vera := mustDialWS(t, ts.URL)
	defer vera.Close(websocket.StatusNormalClosure, "done")

	helloWS(t, alice, "alice")
	helloWS(t, vera, "vera")
	joinWS(t, alice, b.ID, "join-a")
	joinWS(t, vera, b.ID, "join-v")

	writeEnvelopeWS(t, vera, v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeTaskCreate,
		ID:   "mut-1",
		Payload: mustJSONRaw(t, v1.TaskCreatePayload{
			BoardID: b.ID, ColumnID: b.Columns[0].ID, Title: "nope",
		}),
	})

	nack := decodeAckWS(t, readUntilType(t, vera, v1.TypeAck, 8))
	if nack.Ref != "mut-1" || nack.Success || nack.Error == "" {
		t.Fatalf("nack = %+v", nack)
	}

	// The nack above is the fence for vera's command; nothing was broadcast,
	// so alice sees only her own leave ack from here on.
	writeEnvelopeWS(t, alice, v1.Envelope{V: v1.Version, Type: v1.TypeBoardLeave, ID: "leave-1"})
	for _, env := range collectUntilAck(t, alice, "leave-1", 16) {
		if env.Type == v1.TypeTaskCreated {
			t.Fatalf("rejected mutation was broadcast")
		}
	}
}

func TestWSGateway_CommandsBeforeHelloRejected(t *testing.T) {
	t.Setenv("KANVA_WS_ORIGIN_REQUIRED", "false")

	ts := startWSTestServer(t, newWSTestGateway(t, newWSTestService(t)))
	defer ts.Close()

	conn := mustDialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	writeEnvelopeWS(t, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeBoardJoin,
		ID:      "join-1",
		Payload: mustJSONRaw(t, v1.BoardJoinPayload{BoardID: "b1"}),
	})

	env := readUntilType(t, conn, v1.TypeError, 4)
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if p.Code != "not_authenticated" {
		t.Fatalf("error code = %q", p.Code)
	}
}

func TestWSGateway_SecondHelloClosesConnection(t *testing.T) {
	t.Setenv("KANVA_WS_ORIGIN_REQUIRED", "false")

	ts := startWSTestServer(t, newWSTestGateway(t, newWSTestService(t)))
	defer ts.Close()

	conn := mustDialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	helloWS(t, conn, "alice")

	// Re-authenticating as someone else must not rebind the session.
	writeEnvelopeWS(t, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      "hello-again",
		Payload: mustJSONRaw(t, v1.HelloPayload{Token: "dev:bob"}),
	})

	env := readUntilType(t, conn, v1.TypeError, 4)
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if p.Code != "hello_failed" {
		t.Fatalf("error code = %q", p.Code)
	}

	// The gateway closes the connection after the duplicate handshake.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
}
