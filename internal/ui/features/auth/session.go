// Package auth provides sign-in and sign-out for the console and the
// middleware that turns a browser session into a connection identity.
package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"golang.org/x/crypto/hkdf"

	"github.com/leapstack-labs/querydeck/internal/session"
)

// SessionName is the name of the session cookie.
const SessionName = "querydeck.session"

// Session value keys.
const (
	keyID       = "id"
	keyUser     = "user"
	keyPassword = "password"
)

// RememberFor is how long a session lives when the user asks to be remembered.
const RememberFor = 7 * 24 * 60 * 60

// NewCookieStore creates the session store. Cookies carry the password, so
// they are always encrypted: when encryptionKey is empty an AES-256 key is
// derived from hashKey.
func NewCookieStore(hashKey, encryptionKey []byte, secure bool) (*sessions.CookieStore, error) {
	if len(encryptionKey) == 0 {
		key, err := deriveEncryptionKey(hashKey)
		if err != nil {
			return nil, err
		}
		encryptionKey = key
	}
	store := sessions.NewCookieStore(hashKey, encryptionKey)
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode
	store.Options.Secure = secure
	// browser session unless the user asks to be remembered
	store.Options.MaxAge = 0
	return store, nil
}

func deriveEncryptionKey(secret []byte) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte("querydeck session encryption"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive session encryption key: %w", err)
	}
	return key, nil
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id session.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by RequireSession.
func IdentityFrom(ctx context.Context) (session.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(session.Identity)
	return id, ok
}

// identityOf reads the identity out of a gorilla session. ok is false when
// nobody is signed in.
func identityOf(s *sessions.Session) (session.Identity, bool) {
	user, _ := s.Values[keyUser].(string)
	if user == "" {
		return session.Identity{}, false
	}
	id, _ := s.Values[keyID].(string)
	password, _ := s.Values[keyPassword].(string)
	return session.Identity{SessionID: id, Principal: user, Credentials: password}, true
}

// signIn stores a fresh identity for user in s.
func signIn(s *sessions.Session, user, password string, remember bool) session.Identity {
	id := session.Identity{SessionID: uuid.NewString(), Principal: user, Credentials: password}
	s.Values[keyID] = id.SessionID
	s.Values[keyUser] = id.Principal
	s.Values[keyPassword] = id.Credentials
	if remember {
		s.Options.MaxAge = RememberFor
	}
	return id
}
