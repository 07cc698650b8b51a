package client

import (
	"encoding/json"
	"net/url"
	"sync"

	"github.com/Berkay2002/rsa-messenger/internal/model"
	"github.com/Berkay2002/rsa-messenger/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type (
	// Transport wraps the realtime websocket as a bidirectional event
	// channel.
	Transport struct {
		conn *websocket.Conn
		wmu  sync.Mutex
	}
)

// Dial connects to the relay and identifies the user.
func Dial(host, username string) (*Transport, error) {
	params := url.Values{
		"username": []string{username},
	}

	u := url.URL{
		Scheme:   "ws",
		Host:     host,
		Path:     "/ws",
		RawQuery: params.Encode(),
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	return &Transport{conn: conn}, nil
}

// Emit sends an outgoing envelope as a new_message frame.
func (t *Transport) Emit(envelope *model.Envelope) error {
	return t.EmitEvent(&model.Event{
		Name:      model.EventNewMessage,
		Recipient: envelope.Recipient,
		Message:   envelope.Ciphertext,
		IsGroup:   envelope.IsGroup,
		Group:     envelope.Group,
	})
}

func (t *Transport) EmitEvent(event *model.Event) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.conn.WriteJSON(event)
}

// Listen reads frames until the connection closes, invoking handler for
// each decoded event in delivery order.
func (t *Transport) Listen(handler func(event *model.Event)) {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			log.Debug("realtime channel closed", zap.Error(err))
			t.conn.Close()
			return
		}

		var event model.Event
		if err := json.Unmarshal(data, &event); err != nil {
			log.Error("Unmarshal event failed", zap.Error(err))
			continue
		}

		handler(&event)
	}
}

func (t *Transport) Close() error {
	return t.conn.Close()
}
