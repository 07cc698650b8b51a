package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Berkay2002/rsa-messenger/internal/cryptographic/rsakit"
	"github.com/Berkay2002/rsa-messenger/internal/model"
	"github.com/Berkay2002/rsa-messenger/internal/utils/log"

	"go.uber.org/zap"
)

var (
	ErrEmptyMessage  = errors.New("client: message cannot be empty")
	ErrNoPublicKey   = errors.New("client: could not resolve recipient public key")
	ErrNoDestination = errors.New("client: no conversation selected")
)

// DecryptFailedMarker is what the UI renders when an inbound ciphertext
// cannot be opened. The failure itself travels as DisplayEvent.DecryptFailed.
const DecryptFailedMarker = "Decryption failed."

// GroupPolicy selects how group messages are encrypted.
type GroupPolicy int

const (
	// GroupPolicySenderKey encrypts once with the sender's own public key
	// and broadcasts. Only the sender can ever decrypt such a message; the
	// original clients shipped this way and the behavior is kept as the
	// compatibility default.
	GroupPolicySenderKey GroupPolicy = iota

	// GroupPolicyPerMember encrypts one ciphertext per group member, each
	// under that member's key.
	GroupPolicyPerMember
)

type (
	// Emitter pushes outgoing envelopes onto the realtime channel.
	Emitter interface {
		Emit(envelope *model.Envelope) error
	}

	// DisplayEvent is a decrypted inbound message ready for rendering.
	DisplayEvent struct {
		Sender        string
		Conversation  string
		Text          string
		DecryptFailed bool
	}

	// MessageRouter encrypts outgoing plaintext for its destination and
	// decrypts inbound ciphertext addressed to the session identity. It
	// reads the session but never mutates it.
	MessageRouter struct {
		session *Session
		dir     Directory
		emitter Emitter
		policy  GroupPolicy

		mu      sync.Mutex
		current model.Target
		token   uint64
	}
)

func NewMessageRouter(session *Session, dir Directory, emitter Emitter, policy GroupPolicy) *MessageRouter {
	return &MessageRouter{
		session: session,
		dir:     dir,
		emitter: emitter,
		policy:  policy,
	}
}

// OpenConversation switches the currently displayed conversation. Any
// in-flight send started for a previous conversation is discarded when its
// key lookup resolves.
func (r *MessageRouter) OpenConversation(target model.Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = target
	r.token++
}

func (r *MessageRouter) currentToken() (model.Target, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.token
}

func (r *MessageRouter) tokenValid(token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token == token
}

// Send resolves the destination's key material, encrypts plaintext and
// emits ciphertext envelopes. It either fully succeeds or emits nothing.
func (r *MessageRouter) Send(ctx context.Context, target model.Target, plaintext string) error {
	if plaintext == "" {
		return ErrEmptyMessage
	}
	if target.Name == "" {
		return ErrNoDestination
	}

	_, token := r.currentToken()

	if target.IsGroup {
		return r.sendGroup(ctx, target, plaintext, token)
	}
	return r.sendDirect(ctx, target, plaintext, token)
}

func (r *MessageRouter) sendDirect(ctx context.Context, target model.Target, plaintext string, token uint64) error {
	publicKey, err := r.dir.LookupPublicKey(ctx, target.Name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNoPublicKey, target.Name)
	}

	ciphertext, err := rsakit.Encrypt(plaintext, publicKey)
	if err != nil {
		return err
	}

	if !r.tokenValid(token) {
		log.Debug("conversation changed during send, discarding", zap.String("recipient", target.Name))
		return nil
	}

	return r.emitter.Emit(&model.Envelope{
		Sender:     r.session.Username,
		Recipient:  target.Name,
		Ciphertext: ciphertext,
	})
}

func (r *MessageRouter) sendGroup(ctx context.Context, target model.Target, plaintext string, token uint64) error {
	if r.policy == GroupPolicySenderKey {
		ciphertext, err := rsakit.Encrypt(plaintext, r.session.KeyPair.PublicPEM)
		if err != nil {
			return err
		}
		if !r.tokenValid(token) {
			return nil
		}
		return r.emitter.Emit(&model.Envelope{
			Sender:     r.session.Username,
			Recipient:  target.Name,
			Ciphertext: ciphertext,
			IsGroup:    true,
		})
	}

	members := target.Members
	if len(members) == 0 {
		var err error
		members, err = r.dir.GroupMembers(ctx, target.Name)
		if err != nil {
			return fmt.Errorf("%w: group %s", ErrNoPublicKey, target.Name)
		}
	}

	// Resolve and encrypt for every member before emitting anything, so a
	// failed lookup leaves no partial fan-out.
	envelopes := make([]*model.Envelope, 0, len(members))
	for _, member := range members {
		if member == r.session.Username {
			continue
		}
		publicKey, err := r.dir.LookupPublicKey(ctx, member)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrNoPublicKey, member)
		}
		ciphertext, err := rsakit.Encrypt(plaintext, publicKey)
		if err != nil {
			return err
		}
		envelopes = append(envelopes, &model.Envelope{
			Sender:     r.session.Username,
			Recipient:  member,
			Group:      target.Name,
			Ciphertext: ciphertext,
			IsGroup:    true,
		})
	}

	if !r.tokenValid(token) {
		log.Debug("conversation changed during send, discarding", zap.String("group", target.Name))
		return nil
	}

	for _, envelope := range envelopes {
		if err := r.emitter.Emit(envelope); err != nil {
			return err
		}
	}
	return nil
}

// Receive decrypts an inbound envelope. It returns (nil, false) when the
// envelope belongs to a conversation that is not currently open; such
// messages are suppressed, not queued.
func (r *MessageRouter) Receive(envelope *model.Envelope) (*DisplayEvent, bool) {
	conversation := envelope.Group
	if conversation == "" {
		conversation = envelope.Sender
	}

	// A group and a peer may share a name; the open conversation must
	// match on kind as well.
	current, _ := r.currentToken()
	if current.Name != conversation || current.IsGroup != (envelope.Group != "") {
		return nil, false
	}

	plaintext, err := rsakit.Decrypt(envelope.Ciphertext, r.session.KeyPair.PrivatePEM)
	if err != nil {
		return &DisplayEvent{
			Sender:        envelope.Sender,
			Conversation:  conversation,
			Text:          DecryptFailedMarker,
			DecryptFailed: true,
		}, true
	}

	return &DisplayEvent{
		Sender:       envelope.Sender,
		Conversation: conversation,
		Text:         plaintext,
	}, true
}
