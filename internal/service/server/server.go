package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/Berkay2002/rsa-messenger/internal/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	// UserStore is the identity directory the server fronts.
	UserStore interface {
		GetByName(ctx context.Context, username string) (*model.User, error)
		Create(ctx context.Context, username, password, publicKey, encryptedPrivateKey string) (primitive.ObjectID, error)
		Verify(ctx context.Context, username, password string) (*model.User, error)
	}

	// PresenceStore tracks online users and per-group subscriber sets.
	PresenceStore interface {
		SAdd(ctx context.Context, key string, members ...any) error
		SRem(ctx context.Context, key string, members ...any) error
		SMembers(ctx context.Context, key string) ([]string, error)
		SIsMember(ctx context.Context, key string, member any) (bool, error)
	}

	// SocialStore holds friendships and group membership.
	SocialStore interface {
		AddFriend(ctx context.Context, user, friend string) error
		Friends(ctx context.Context, username string) ([]string, error)
		CreateGroup(ctx context.Context, name, creator string, members []string) error
		Groups(ctx context.Context, username string) ([]string, error)
		GroupMembers(ctx context.Context, name string) ([]string, error)
		AddMember(ctx context.Context, name, username string) error
	}

	HttpServer struct {
		addr string

		mu     sync.Mutex
		mapper map[string]*clientConn

		users        UserStore
		social       SocialStore
		redisService PresenceStore
	}

	// clientConn is one live websocket plus the group channels it joined,
	// so subscriptions can be dropped on disconnect.
	clientConn struct {
		conn   *websocket.Conn
		wmu    sync.Mutex
		joined map[string]struct{}
	}
)

func NewHttpServer(addr string, users UserStore, social SocialStore, redisSvc PresenceStore) *HttpServer {
	return &HttpServer{
		addr:         addr,
		mapper:       make(map[string]*clientConn),
		users:        users,
		social:       social,
		redisService: redisSvc,
	}
}

// Router wires all directory routes plus the realtime endpoint.
func (s *HttpServer) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/register", s.HandleRegister()).Methods(http.MethodPost)
	r.HandleFunc("/login", s.HandleLogin()).Methods(http.MethodPost)
	r.HandleFunc("/get_public_key", s.HandleGetPublicKey()).Methods(http.MethodGet)
	r.HandleFunc("/get_friends", s.HandleGetFriends()).Methods(http.MethodGet)
	r.HandleFunc("/get_groups", s.HandleGetGroups()).Methods(http.MethodGet)
	r.HandleFunc("/get_group_members", s.HandleGetGroupMembers()).Methods(http.MethodGet)
	r.HandleFunc("/create_group", s.HandleCreateGroup()).Methods(http.MethodPost)
	r.HandleFunc("/add_friend", s.HandleAddFriend()).Methods(http.MethodPost)
	r.HandleFunc("/add_member", s.HandleAddMember()).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.HandleInitWS()).Methods(http.MethodGet)

	return r
}

func (s *HttpServer) Run() error {
	return http.ListenAndServe(s.addr, s.Router())
}
