package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Berkay2002/rsa-messenger/internal/model"
	"github.com/Berkay2002/rsa-messenger/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const onlineUsersKey = "online_users"

func groupSubsKey(group string) string {
	return fmt.Sprintf("subs: %s", group)
}

func (s *HttpServer) HandleInitWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		username := r.URL.Query().Get("username")
		if username == "" {
			http.Error(w, "username cannot be empty", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		if _, ok := s.mapper[username]; ok {
			s.mu.Unlock()
			http.Error(w, "duplicated username", http.StatusBadRequest)
			return
		}
		s.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "Failed to upgrade", http.StatusInternalServerError)
			return
		}

		// Re-check under the same lock as the insert; a second dial for the
		// same username may have won the race since the pre-upgrade check.
		cc := &clientConn{conn: conn, joined: make(map[string]struct{})}
		s.mu.Lock()
		if _, ok := s.mapper[username]; ok {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.mapper[username] = cc
		s.mu.Unlock()

		cc.writeEvent(&model.Event{Name: model.EventConnected, Username: username})
		go s.processWSEvents(username, cc)
	}
}

func (s *HttpServer) processWSEvents(username string, cc *clientConn) {
	ctx := context.Background()

	for {
		_, data, err := cc.conn.ReadMessage()
		if err != nil {
			log.Debug("worker web socket closed", zap.Error(err))
			s.dropClient(ctx, username, cc)
			break
		}

		var event model.Event
		if err := json.Unmarshal(data, &event); err != nil {
			log.Error("Unmarshal event failed", zap.Error(err))
			continue
		}

		switch event.Name {
		case model.EventUserJoin:
			if err := s.redisService.SAdd(ctx, onlineUsersKey, username); err != nil {
				log.Error("mark user online failed", zap.Error(err))
			}

		case model.EventJoinGroup:
			if event.GroupName == "" {
				continue
			}
			cc.joined[event.GroupName] = struct{}{}
			if err := s.redisService.SAdd(ctx, groupSubsKey(event.GroupName), username); err != nil {
				log.Error("join group failed", zap.String("group", event.GroupName), zap.Error(err))
			}

		case model.EventNewMessage:
			s.routeMessage(ctx, username, &event)

		default:
			log.Debug("unknown event", zap.String("event", event.Name))
		}
	}
}

// routeMessage forwards ciphertext to the recipient's live socket, or fans
// it out to a group's current subscribers. There is no offline queue; a
// message to an absent peer is dropped.
func (s *HttpServer) routeMessage(ctx context.Context, sender string, event *model.Event) {
	if event.IsGroup {
		// A group event carrying an explicit group name is addressed to a
		// single member (per-member encryption); deliver to that member only.
		if event.Group != "" {
			s.deliver(ctx, event.Recipient, &model.Event{
				Name:     model.EventChat,
				Username: sender,
				Message:  event.Message,
				Group:    event.Group,
			})
			return
		}

		subscribers, err := s.redisService.SMembers(ctx, groupSubsKey(event.Recipient))
		if err != nil {
			log.Error("group fanout failed", zap.String("group", event.Recipient), zap.Error(err))
			return
		}
		for _, member := range subscribers {
			if member == sender {
				continue
			}
			s.deliver(ctx, member, &model.Event{
				Name:     model.EventChat,
				Username: sender,
				Message:  event.Message,
				Group:    event.Recipient,
			})
		}
		return
	}

	s.deliver(ctx, event.Recipient, &model.Event{
		Name:     model.EventChat,
		Username: sender,
		Message:  event.Message,
	})
}

func (s *HttpServer) deliver(ctx context.Context, username string, event *model.Event) {
	s.mu.Lock()
	cc, ok := s.mapper[username]
	s.mu.Unlock()
	if !ok {
		// The recipient may still be marked online from another process;
		// either way there is no queue, the message is dropped.
		online, err := s.redisService.SIsMember(ctx, onlineUsersKey, username)
		if err == nil && online {
			log.Debug("recipient connected elsewhere, message dropped", zap.String("recipient", username))
		} else {
			log.Debug("recipient offline, message dropped", zap.String("recipient", username))
		}
		return
	}
	cc.writeEvent(event)
}

func (s *HttpServer) dropClient(ctx context.Context, username string, cc *clientConn) {
	// Only remove the entry if it is still ours; a newer connection for the
	// same username must not lose its registration.
	s.mu.Lock()
	if cur, ok := s.mapper[username]; ok && cur == cc {
		delete(s.mapper, username)
	}
	s.mu.Unlock()

	cc.conn.Close()

	if err := s.redisService.SRem(ctx, onlineUsersKey, username); err != nil {
		log.Error("mark user offline failed", zap.Error(err))
	}
	for group := range cc.joined {
		if err := s.redisService.SRem(ctx, groupSubsKey(group), username); err != nil {
			log.Error("leave group failed", zap.String("group", group), zap.Error(err))
		}
	}
}

func (cc *clientConn) writeEvent(event *model.Event) {
	cc.wmu.Lock()
	defer cc.wmu.Unlock()
	if err := cc.conn.WriteJSON(event); err != nil {
		log.Error("write event failed", zap.Error(err))
	}
}
