package mqttd

import (
	"context"
	"errors"
	"net"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnknownUser is returned when removing a user the ledger does not hold.
var ErrUnknownUser = errors.New("unknown user")

// AuthContext contains information about the authentication request.
type AuthContext struct {
	// ClientID is the client identifier after server assignment.
	ClientID string

	// UsernameFlag and PasswordFlag mirror the CONNECT flags, so that an empty
	// username can be told apart from a missing one.
	UsernameFlag bool
	PasswordFlag bool

	// Username is the username from the CONNECT packet (may be empty).
	Username string

	// Password is the password from the CONNECT packet (may be empty).
	Password []byte

	// RemoteAddr is the remote address of the client connection.
	RemoteAddr net.Addr
}

// Authenticator decides whether a CONNECT is accepted. A return code other
// than ConnackAccepted is sent to the client before the session is closed.
// An error is treated as ConnackServerUnavailable.
type Authenticator interface {
	Authenticate(ctx context.Context, authCtx *AuthContext) (ConnackCode, error)
}

// AllowAllAuthenticator allows all connections without checking credentials.
type AllowAllAuthenticator struct{}

// Authenticate always accepts.
func (AllowAllAuthenticator) Authenticate(_ context.Context, _ *AuthContext) (ConnackCode, error) {
	return ConnackAccepted, nil
}

// DenyAllAuthenticator denies all connections.
type DenyAllAuthenticator struct{}

// Authenticate always returns not authorized.
func (DenyAllAuthenticator) Authenticate(_ context.Context, _ *AuthContext) (ConnackCode, error) {
	return ConnackNotAuthorized, nil
}

// UserRule is a ledger entry. Password holds a bcrypt hash.
type UserRule struct {
	Password string `yaml:"password"`
	Disallow bool   `yaml:"disallow,omitempty"`
}

// LedgerAuthenticator checks usernames and passwords against bcrypt hashes.
// It is safe for concurrent use.
type LedgerAuthenticator struct {
	mu             sync.RWMutex
	users          map[string]UserRule
	allowAnonymous bool
	cost           int
}

// NewLedgerAuthenticator creates an empty ledger. If allowAnonymous is true,
// CONNECTs without a username are accepted.
func NewLedgerAuthenticator(allowAnonymous bool) *LedgerAuthenticator {
	return &LedgerAuthenticator{
		users:          make(map[string]UserRule),
		allowAnonymous: allowAnonymous,
		cost:           bcrypt.DefaultCost,
	}
}

// SetCost sets the bcrypt cost used by AddUser.
func (l *LedgerAuthenticator) SetCost(cost int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cost = max(min(cost, bcrypt.MaxCost), bcrypt.MinCost)
}

// AddUser hashes password and stores it for username, replacing any entry.
func (l *LedgerAuthenticator) AddUser(username, password string) error {
	l.mu.RLock()
	cost := l.cost
	l.mu.RUnlock()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return err
	}

	return l.AddUserRule(username, UserRule{Password: string(hash)})
}

// AddUserRule stores a pre-hashed entry for username.
func (l *LedgerAuthenticator) AddUserRule(username string, rule UserRule) error {
	if !rule.Disallow {
		if _, err := bcrypt.Cost([]byte(rule.Password)); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.users[username] = rule
	return nil
}

// RemoveUser deletes username from the ledger.
func (l *LedgerAuthenticator) RemoveUser(username string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.users[username]; !ok {
		return ErrUnknownUser
	}
	delete(l.users, username)
	return nil
}

// Len returns the number of users in the ledger.
func (l *LedgerAuthenticator) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.users)
}

// Authenticate implements Authenticator.
func (l *LedgerAuthenticator) Authenticate(_ context.Context, authCtx *AuthContext) (ConnackCode, error) {
	if !authCtx.UsernameFlag {
		if l.allowAnonymous {
			return ConnackAccepted, nil
		}
		return ConnackNotAuthorized, nil
	}

	l.mu.RLock()
	rule, ok := l.users[authCtx.Username]
	l.mu.RUnlock()

	if !ok || !authCtx.PasswordFlag {
		return ConnackBadUsernameOrPassword, nil
	}
	if rule.Disallow {
		return ConnackNotAuthorized, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rule.Password), authCtx.Password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ConnackBadUsernameOrPassword, nil
		}
		return ConnackServerUnavailable, err
	}

	return ConnackAccepted, nil
}
