package client_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Berkay2002/rsa-messenger/internal/cryptographic/rsakit"
	"github.com/Berkay2002/rsa-messenger/internal/model"
	"github.com/Berkay2002/rsa-messenger/internal/service/client"
)

type fakeEmitter struct {
	envelopes []*model.Envelope
}

func (e *fakeEmitter) Emit(envelope *model.Envelope) error {
	e.envelopes = append(e.envelopes, envelope)
	return nil
}

// emitterFunc adapts a function to the Emitter interface, used to wire two
// routers back to back.
type emitterFunc func(envelope *model.Envelope) error

func (f emitterFunc) Emit(envelope *model.Envelope) error { return f(envelope) }

func newSession(t *testing.T, username string, dir *fakeDirectory) *client.Session {
	t.Helper()
	kp, err := rsakit.GenerateKeyPair(testKeyBits)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	dir.pub[username] = kp.PublicPEM
	return &client.Session{Username: username, KeyPair: kp}
}

func TestSend_Direct(t *testing.T) {
	dir := newFakeDirectory()
	alice := newSession(t, "alice", dir)
	bob := newSession(t, "bob", dir)

	emitter := &fakeEmitter{}
	router := client.NewMessageRouter(alice, dir, emitter, client.GroupPolicySenderKey)
	router.OpenConversation(model.DirectTarget("bob"))

	if err := router.Send(context.Background(), model.DirectTarget("bob"), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(emitter.envelopes) != 1 {
		t.Fatalf("emitted %d envelopes", len(emitter.envelopes))
	}
	envelope := emitter.envelopes[0]
	if envelope.Sender != "alice" || envelope.Recipient != "bob" || envelope.IsGroup {
		t.Fatalf("bad envelope: %+v", envelope)
	}

	// Only bob can open it.
	plaintext, err := rsakit.Decrypt(envelope.Ciphertext, bob.KeyPair.PrivatePEM)
	if err != nil {
		t.Fatalf("Decrypt as bob: %v", err)
	}
	if plaintext != "hello" {
		t.Fatalf("got %q", plaintext)
	}
	if _, err := rsakit.Decrypt(envelope.Ciphertext, alice.KeyPair.PrivatePEM); err == nil {
		t.Fatal("sender could decrypt a direct message to someone else")
	}
}

func TestSend_Validation(t *testing.T) {
	dir := newFakeDirectory()
	alice := newSession(t, "alice", dir)
	router := client.NewMessageRouter(alice, dir, &fakeEmitter{}, client.GroupPolicySenderKey)

	if err := router.Send(context.Background(), model.DirectTarget("bob"), ""); !errors.Is(err, client.ErrEmptyMessage) {
		t.Fatalf("want ErrEmptyMessage, got %v", err)
	}
	if err := router.Send(context.Background(), model.Target{}, "hi"); !errors.Is(err, client.ErrNoDestination) {
		t.Fatalf("want ErrNoDestination, got %v", err)
	}
}

func TestSend_UnknownRecipient(t *testing.T) {
	dir := newFakeDirectory()
	alice := newSession(t, "alice", dir)
	emitter := &fakeEmitter{}
	router := client.NewMessageRouter(alice, dir, emitter, client.GroupPolicySenderKey)

	err := router.Send(context.Background(), model.DirectTarget("ghost"), "hi")
	if !errors.Is(err, client.ErrNoPublicKey) {
		t.Fatalf("want ErrNoPublicKey, got %v", err)
	}
	if len(emitter.envelopes) != 0 {
		t.Fatal("failed send still emitted an envelope")
	}
}

func TestSend_SupersededByNavigation(t *testing.T) {
	dir := newFakeDirectory()
	alice := newSession(t, "alice", dir)
	newSession(t, "bob", dir)

	emitter := &fakeEmitter{}
	router := client.NewMessageRouter(alice, dir, emitter, client.GroupPolicySenderKey)
	router.OpenConversation(model.DirectTarget("bob"))

	// The user navigates away while the key lookup is in flight.
	dir.onLookup = func(string) {
		router.OpenConversation(model.DirectTarget("carol"))
	}

	if err := router.Send(context.Background(), model.DirectTarget("bob"), "stale"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(emitter.envelopes) != 0 {
		t.Fatal("superseded send was not discarded")
	}
}

func TestReceive_FiltersByOpenConversation(t *testing.T) {
	dir := newFakeDirectory()
	alice := newSession(t, "alice", dir)
	newSession(t, "carol", dir)

	router := client.NewMessageRouter(alice, dir, &fakeEmitter{}, client.GroupPolicySenderKey)
	router.OpenConversation(model.DirectTarget("bob"))

	ct, err := rsakit.Encrypt("psst", alice.KeyPair.PublicPEM)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := router.Receive(&model.Envelope{Sender: "carol", Ciphertext: ct}); ok {
		t.Fatal("message from carol displayed while bob's chat is open")
	}

	display, ok := router.Receive(&model.Envelope{Sender: "bob", Ciphertext: ct})
	if !ok {
		t.Fatal("message from bob suppressed in bob's chat")
	}
	if display.Text != "psst" || display.Sender != "bob" {
		t.Fatalf("display = %+v", display)
	}
}

func TestReceive_FiltersByConversationKind(t *testing.T) {
	dir := newFakeDirectory()
	alice := newSession(t, "alice", dir)

	router := client.NewMessageRouter(alice, dir, &fakeEmitter{}, client.GroupPolicySenderKey)

	ct, err := rsakit.Encrypt("psst", alice.KeyPair.PublicPEM)
	if err != nil {
		t.Fatal(err)
	}

	// A user and a group share the name "team"; a group envelope must not
	// render into the direct chat, nor the reverse.
	router.OpenConversation(model.DirectTarget("team"))
	if _, ok := router.Receive(&model.Envelope{Sender: "bob", Group: "team", Ciphertext: ct, IsGroup: true}); ok {
		t.Fatal("group message displayed in a direct chat of the same name")
	}

	router.OpenConversation(model.GroupTarget("team", nil))
	if _, ok := router.Receive(&model.Envelope{Sender: "team", Ciphertext: ct}); ok {
		t.Fatal("direct message displayed in a group chat of the same name")
	}
	if _, ok := router.Receive(&model.Envelope{Sender: "bob", Group: "team", Ciphertext: ct, IsGroup: true}); !ok {
		t.Fatal("group message suppressed in its own chat")
	}
}

func TestReceive_DecryptFailureMarker(t *testing.T) {
	dir := newFakeDirectory()
	alice := newSession(t, "alice", dir)

	router := client.NewMessageRouter(alice, dir, &fakeEmitter{}, client.GroupPolicySenderKey)
	router.OpenConversation(model.DirectTarget("bob"))

	display, ok := router.Receive(&model.Envelope{Sender: "bob", Ciphertext: "deadbeef"})
	if !ok {
		t.Fatal("undecryptable message suppressed instead of marked")
	}
	if !display.DecryptFailed || display.Text != client.DecryptFailedMarker {
		t.Fatalf("display = %+v", display)
	}
}

// Under the sender-key policy a group ciphertext is bound to the sender's
// own key, so recipients cannot decrypt it. This asserts the documented
// behavior of the shipped clients.
func TestGroup_SenderKeyPolicyGap(t *testing.T) {
	dir := newFakeDirectory()
	alice := newSession(t, "alice", dir)
	bob := newSession(t, "bob", dir)
	dir.groups["team"] = []string{"alice", "bob"}

	emitter := &fakeEmitter{}
	aliceRouter := client.NewMessageRouter(alice, dir, emitter, client.GroupPolicySenderKey)
	aliceRouter.OpenConversation(model.GroupTarget("team", nil))

	if err := aliceRouter.Send(context.Background(), model.GroupTarget("team", nil), "standup?"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(emitter.envelopes) != 1 {
		t.Fatalf("emitted %d envelopes", len(emitter.envelopes))
	}
	envelope := emitter.envelopes[0]
	if !envelope.IsGroup || envelope.Recipient != "team" {
		t.Fatalf("bad envelope: %+v", envelope)
	}

	// The sender can read back their own broadcast.
	if _, err := rsakit.Decrypt(envelope.Ciphertext, alice.KeyPair.PrivatePEM); err != nil {
		t.Fatalf("sender decrypt: %v", err)
	}

	// Bob receives it as relay would deliver it and gets the failure marker.
	bobRouter := client.NewMessageRouter(bob, dir, &fakeEmitter{}, client.GroupPolicySenderKey)
	bobRouter.OpenConversation(model.GroupTarget("team", nil))

	display, ok := bobRouter.Receive(&model.Envelope{
		Sender:     "alice",
		Group:      "team",
		Ciphertext: envelope.Ciphertext,
		IsGroup:    true,
	})
	if !ok {
		t.Fatal("group message suppressed")
	}
	if !display.DecryptFailed {
		t.Fatal("expected decryption failure under sender-key policy")
	}
}

func TestGroup_PerMemberPolicy(t *testing.T) {
	dir := newFakeDirectory()
	alice := newSession(t, "alice", dir)
	bob := newSession(t, "bob", dir)
	carol := newSession(t, "carol", dir)
	dir.groups["team"] = []string{"alice", "bob", "carol"}

	emitter := &fakeEmitter{}
	router := client.NewMessageRouter(alice, dir, emitter, client.GroupPolicyPerMember)
	router.OpenConversation(model.GroupTarget("team", nil))

	if err := router.Send(context.Background(), model.GroupTarget("team", nil), "standup?"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// One ciphertext each for bob and carol, none for the sender.
	if len(emitter.envelopes) != 2 {
		t.Fatalf("emitted %d envelopes", len(emitter.envelopes))
	}

	keys := map[string]string{
		"bob":   bob.KeyPair.PrivatePEM,
		"carol": carol.KeyPair.PrivatePEM,
	}
	for _, envelope := range emitter.envelopes {
		if envelope.Group != "team" || !envelope.IsGroup {
			t.Fatalf("bad envelope: %+v", envelope)
		}
		priv, ok := keys[envelope.Recipient]
		if !ok {
			t.Fatalf("unexpected recipient %q", envelope.Recipient)
		}
		plaintext, err := rsakit.Decrypt(envelope.Ciphertext, priv)
		if err != nil {
			t.Fatalf("decrypt as %s: %v", envelope.Recipient, err)
		}
		if plaintext != "standup?" {
			t.Fatalf("got %q", plaintext)
		}
	}
}

// Two clients wired back to back through a relay-shaped adapter: each
// new_message becomes the chat event the server would deliver.
func TestEndToEnd_DirectExchange(t *testing.T) {
	dir := newFakeDirectory()
	alice := newSession(t, "alice", dir)
	bob := newSession(t, "bob", dir)

	var aliceRouter, bobRouter *client.MessageRouter
	var aliceSeen, bobSeen []*client.DisplayEvent

	relay := func(sender string, to **client.MessageRouter, seen *[]*client.DisplayEvent) client.Emitter {
		return emitterFunc(func(envelope *model.Envelope) error {
			display, ok := (*to).Receive(&model.Envelope{
				Sender:     sender,
				Group:      envelope.Group,
				Ciphertext: envelope.Ciphertext,
				IsGroup:    envelope.IsGroup,
			})
			if ok {
				*seen = append(*seen, display)
			}
			return nil
		})
	}

	aliceRouter = client.NewMessageRouter(alice, dir, relay("alice", &bobRouter, &bobSeen), client.GroupPolicySenderKey)
	bobRouter = client.NewMessageRouter(bob, dir, relay("bob", &aliceRouter, &aliceSeen), client.GroupPolicySenderKey)

	aliceRouter.OpenConversation(model.DirectTarget("bob"))
	bobRouter.OpenConversation(model.DirectTarget("alice"))

	if err := aliceRouter.Send(context.Background(), model.DirectTarget("bob"), "hello"); err != nil {
		t.Fatalf("alice Send: %v", err)
	}
	if err := bobRouter.Send(context.Background(), model.DirectTarget("alice"), "hi"); err != nil {
		t.Fatalf("bob Send: %v", err)
	}

	if len(bobSeen) != 1 || bobSeen[0].Text != "hello" || bobSeen[0].Sender != "alice" {
		t.Fatalf("bob saw %+v", bobSeen)
	}
	if len(aliceSeen) != 1 || aliceSeen[0].Text != "hi" || aliceSeen[0].Sender != "bob" {
		t.Fatalf("alice saw %+v", aliceSeen)
	}
}
