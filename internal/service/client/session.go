package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/Berkay2002/rsa-messenger/internal/cryptographic/keywrap"
	"github.com/Berkay2002/rsa-messenger/internal/cryptographic/rsakit"
	"github.com/Berkay2002/rsa-messenger/internal/service/directory"
	"github.com/Berkay2002/rsa-messenger/internal/utils/log"

	"go.uber.org/zap"
)

var (
	ErrEmptyCredentials = errors.New("client: username and password cannot be empty")
	ErrNoStoredKey      = errors.New("client: no private key stored for this account")
)

// State tracks progress through the authentication flow.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateRegistering
	StateLoggingIn
	StateKeyRecovering
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateRegistering:
		return "registering"
	case StateLoggingIn:
		return "logging-in"
	case StateKeyRecovering:
		return "key-recovering"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type (
	// Directory is the subset of the identity directory the client needs.
	Directory interface {
		LookupPublicKey(ctx context.Context, username string) (string, error)
		Register(ctx context.Context, username, password, publicKey, encryptedPrivateKey string) error
		Login(ctx context.Context, username, password string) (publicKey, encryptedPrivateKey string, err error)
		Friends(ctx context.Context, username string) ([]string, error)
		Groups(ctx context.Context, username string) ([]string, error)
		GroupMembers(ctx context.Context, group string) ([]string, error)
	}

	// Session is the authenticated identity. The private key exists only
	// here, in memory, and is discarded on Close.
	Session struct {
		Username string
		KeyPair  *rsakit.KeyPair
	}

	// SessionManager drives the registration-or-login decision and
	// private-key recovery. One manager handles one session.
	SessionManager struct {
		dir      Directory
		keyBits  int
		wrapMode keywrap.Mode

		state   State
		session *Session
		failure error
	}
)

func NewSessionManager(dir Directory, keyBits int, wrapMode keywrap.Mode) *SessionManager {
	if keyBits == 0 {
		keyBits = rsakit.DefaultBits
	}
	return &SessionManager{
		dir:      dir,
		keyBits:  keyBits,
		wrapMode: wrapMode,
		state:    StateUnauthenticated,
	}
}

// Authenticate logs the user in, registering a fresh identity when the
// directory has never seen the username. On the login path the sealed
// private key is recovered with the password; recovery failure never
// yields an authenticated session.
func (m *SessionManager) Authenticate(ctx context.Context, username, password string) (*Session, error) {
	if username == "" || password == "" {
		return nil, m.fail(ErrEmptyCredentials)
	}

	m.state = StateAuthenticating
	publicKey, sealedKey, err := m.dir.Login(ctx, username, password)

	if errors.Is(err, directory.ErrNotFound) {
		return m.register(ctx, username, password)
	}
	if err != nil {
		return nil, m.fail(fmt.Errorf("login: %w", err))
	}

	m.state = StateLoggingIn
	if sealedKey == "" {
		return nil, m.fail(ErrNoStoredKey)
	}

	m.state = StateKeyRecovering
	privatePEM, err := keywrap.Unseal(sealedKey, password)
	if err != nil {
		return nil, m.fail(fmt.Errorf("recover private key: %w", err))
	}

	return m.authenticated(username, &rsakit.KeyPair{
		PublicPEM:  publicKey,
		PrivatePEM: string(privatePEM),
	})
}

func (m *SessionManager) register(ctx context.Context, username, password string) (*Session, error) {
	m.state = StateRegistering
	log.Info("username unknown to directory, registering", zap.String("username", username))

	keyPair, err := rsakit.GenerateKeyPair(m.keyBits)
	if err != nil {
		return nil, m.fail(fmt.Errorf("generate keypair: %w", err))
	}

	sealedKey, err := keywrap.Seal([]byte(keyPair.PrivatePEM), password, m.wrapMode)
	if err != nil {
		return nil, m.fail(fmt.Errorf("seal private key: %w", err))
	}

	if err := m.dir.Register(ctx, username, password, keyPair.PublicPEM, sealedKey); err != nil {
		return nil, m.fail(fmt.Errorf("register: %w", err))
	}

	// Registration succeeds with the key already in hand; no recovery step.
	return m.authenticated(username, keyPair)
}

func (m *SessionManager) authenticated(username string, keyPair *rsakit.KeyPair) (*Session, error) {
	m.state = StateAuthenticated
	m.session = &Session{Username: username, KeyPair: keyPair}
	return m.session, nil
}

func (m *SessionManager) fail(err error) error {
	m.state = StateFailed
	m.failure = err
	return err
}

func (m *SessionManager) State() State { return m.state }

func (m *SessionManager) Err() error { return m.failure }

func (m *SessionManager) Session() *Session { return m.session }

// Close discards the in-memory keypair. The key must be re-derived from
// the sealed blob for any future session.
func (m *SessionManager) Close() {
	if m.session != nil {
		m.session.KeyPair = nil
		m.session = nil
	}
	m.state = StateUnauthenticated
}
