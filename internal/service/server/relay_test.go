package server_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Berkay2002/rsa-messenger/internal/model"
	"github.com/Berkay2002/rsa-messenger/internal/service/server"

	"github.com/gorilla/websocket"
)

type fakePresence struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
}

func newFakePresence() *fakePresence {
	return &fakePresence{sets: make(map[string]map[string]struct{})}
}

func (p *fakePresence) SAdd(_ context.Context, key string, members ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.sets[key]
	if !ok {
		set = make(map[string]struct{})
		p.sets[key] = set
	}
	for _, m := range members {
		set[fmt.Sprint(m)] = struct{}{}
	}
	return nil
}

func (p *fakePresence) SRem(_ context.Context, key string, members ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range members {
		delete(p.sets[key], fmt.Sprint(m))
	}
	return nil
}

func (p *fakePresence) SMembers(_ context.Context, key string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var members []string
	for m := range p.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (p *fakePresence) SIsMember(_ context.Context, key string, member any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sets[key][fmt.Sprint(member)]
	return ok, nil
}

func (p *fakePresence) has(key, member string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sets[key][member]
	return ok
}

func startRelay(t *testing.T) (string, *fakePresence) {
	t.Helper()

	presence := newFakePresence()
	s := server.NewHttpServer("", newFakeUserStore(), newFakeSocialStore(), presence)

	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", presence
}

func dialRelay(t *testing.T, wsURL, username string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?username="+username, nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", username, err)
	}
	t.Cleanup(func() { conn.Close() })

	greeting := readEvent(t, conn)
	if greeting.Name != model.EventConnected {
		t.Fatalf("greeting = %+v", greeting)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *model.Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event model.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return &event
}

// expectSilence asserts no frame arrives. The deadline poisons the
// connection for further reads, so call it last on a given conn.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var event model.Event
	if err := conn.ReadJSON(&event); err == nil {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func joinGroup(t *testing.T, conn *websocket.Conn, presence *fakePresence, group, username string) {
	t.Helper()

	if err := conn.WriteJSON(&model.Event{Name: model.EventJoinGroup, GroupName: group, Username: username}); err != nil {
		t.Fatalf("join group: %v", err)
	}
	// The read loop handles the frame asynchronously; wait for the
	// subscription to land before routing anything at the group.
	deadline := time.Now().Add(2 * time.Second)
	for !presence.has("subs: "+group, username) {
		if time.Now().After(deadline) {
			t.Fatalf("%s never subscribed to %s", username, group)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelay_DirectDelivery(t *testing.T) {
	wsURL, _ := startRelay(t)
	alice := dialRelay(t, wsURL, "alice")
	bob := dialRelay(t, wsURL, "bob")

	if err := alice.WriteJSON(&model.Event{Name: model.EventNewMessage, Recipient: "bob", Message: "ct-1"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	event := readEvent(t, bob)
	if event.Name != model.EventChat || event.Username != "alice" || event.Message != "ct-1" || event.Group != "" {
		t.Fatalf("bob received %+v", event)
	}
}

func TestRelay_GroupFanoutExcludesSender(t *testing.T) {
	wsURL, presence := startRelay(t)
	alice := dialRelay(t, wsURL, "alice")
	bob := dialRelay(t, wsURL, "bob")
	carol := dialRelay(t, wsURL, "carol")

	joinGroup(t, alice, presence, "team", "alice")
	joinGroup(t, bob, presence, "team", "bob")
	joinGroup(t, carol, presence, "team", "carol")

	if err := alice.WriteJSON(&model.Event{Name: model.EventNewMessage, Recipient: "team", IsGroup: true, Message: "ct-g"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	for _, conn := range []*websocket.Conn{bob, carol} {
		event := readEvent(t, conn)
		if event.Name != model.EventChat || event.Username != "alice" || event.Message != "ct-g" || event.Group != "team" {
			t.Fatalf("subscriber received %+v", event)
		}
	}
	expectSilence(t, alice)
}

func TestRelay_PerMemberDelivery(t *testing.T) {
	wsURL, _ := startRelay(t)
	alice := dialRelay(t, wsURL, "alice")
	bob := dialRelay(t, wsURL, "bob")
	carol := dialRelay(t, wsURL, "carol")

	if err := alice.WriteJSON(&model.Event{
		Name:      model.EventNewMessage,
		Recipient: "bob",
		Group:     "team",
		IsGroup:   true,
		Message:   "ct-b",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	event := readEvent(t, bob)
	if event.Name != model.EventChat || event.Username != "alice" || event.Message != "ct-b" || event.Group != "team" {
		t.Fatalf("bob received %+v", event)
	}
	expectSilence(t, carol)
}

func TestRelay_DuplicateUsername(t *testing.T) {
	wsURL, _ := startRelay(t)
	alice := dialRelay(t, wsURL, "alice")

	if _, _, err := websocket.DefaultDialer.Dial(wsURL+"?username=alice", nil); err == nil {
		t.Fatal("second connection for the same username accepted")
	}

	// The original connection keeps its registration and still receives.
	bob := dialRelay(t, wsURL, "bob")
	if err := bob.WriteJSON(&model.Event{Name: model.EventNewMessage, Recipient: "alice", Message: "ct-2"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	event := readEvent(t, alice)
	if event.Name != model.EventChat || event.Username != "bob" || event.Message != "ct-2" {
		t.Fatalf("alice received %+v", event)
	}
}
