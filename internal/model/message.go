package model

// Realtime event names carried on the websocket channel.
const (
	EventUserJoin     = "user_join"
	EventNewMessage   = "new_message"
	EventJoinGroup    = "join_group"
	EventChat         = "chat"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

type (
	// Envelope is the wire-level message record: ciphertext plus routing
	// metadata. No plaintext or signature ever crosses the transport.
	// Recipient is a username, or a group name when IsGroup is set; Group
	// carries the group name when a group message is addressed to a single
	// member instead of broadcast.
	Envelope struct {
		Sender     string `json:"sender" validate:"required"`
		Recipient  string `json:"recipient"`
		Ciphertext string `json:"message" validate:"required"`
		IsGroup    bool   `json:"is_group,omitempty"`
		Group      string `json:"group,omitempty"`
	}

	// Event is a single JSON frame on the realtime channel. Which fields are
	// populated depends on Name.
	Event struct {
		Name      string `json:"event"`
		Username  string `json:"username,omitempty"`
		PublicKey string `json:"public_key,omitempty"`
		Recipient string `json:"recipient,omitempty"`
		Message   string `json:"message,omitempty"`
		IsGroup   bool   `json:"is_group,omitempty"`
		Group     string `json:"group,omitempty"`
		GroupName string `json:"group_name,omitempty"`
	}
)
