package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/liverylab/paintrig/backend/internal/users"
)

type fakeAccountStore struct {
	accounts map[int64]*users.Account
}

func (s *fakeAccountStore) GetByID(_ context.Context, id int64) (*users.Account, error) {
	account, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", users.ErrAccountNotFound, id)
	}
	return account, nil
}

func newTestVerifier(t *testing.T) (*HandshakeVerifier, *TokenIssuer, *fakeAccountStore) {
	t.Helper()
	tokens := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("handshake-secret"),
		Issuer:        "paintrig-auth",
		Audience:      "paintrig-collab",
		TokenTTL:      time.Hour,
	})
	store := &fakeAccountStore{accounts: map[int64]*users.Account{}}
	verifier, err := NewHandshakeVerifier(store, tokens)
	if err != nil {
		t.Fatalf("failed to build verifier: %v", err)
	}
	return verifier, tokens, store
}

func mustCredential(t *testing.T, userID int64, token string) []byte {
	t.Helper()
	blob, err := json.Marshal(Credential{UserID: userID, Token: token})
	if err != nil {
		t.Fatalf("failed to marshal credential: %v", err)
	}
	return blob
}

func TestVerifyAcceptsValidCredential(t *testing.T) {
	verifier, tokens, store := newTestVerifier(t)
	token, _, err := tokens.IssueSessionToken(context.Background(), 12)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	store.accounts[12] = &users.Account{ID: 12, SessionToken: token}

	userID, err := verifier.Verify(context.Background(), mustCredential(t, 12, token))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != 12 {
		t.Fatalf("expected user 12, got %d", userID)
	}
}

func TestVerifyMissingCredential(t *testing.T) {
	verifier, _, _ := newTestVerifier(t)
	for _, blob := range [][]byte{nil, []byte(""), []byte("   ")} {
		if _, err := verifier.Verify(context.Background(), blob); !errors.Is(err, ErrMissingCredential) {
			t.Fatalf("expected ErrMissingCredential, got %v", err)
		}
	}
}

func TestVerifyMalformedCredential(t *testing.T) {
	verifier, _, _ := newTestVerifier(t)
	blobs := [][]byte{
		[]byte("not-json"),
		[]byte(`{"user_id":0,"token":"x"}`),
		[]byte(`{"user_id":12,"token":""}`),
	}
	for _, blob := range blobs {
		if _, err := verifier.Verify(context.Background(), blob); !errors.Is(err, ErrMalformedCredential) {
			t.Fatalf("expected ErrMalformedCredential for %s, got %v", blob, err)
		}
	}
}

func TestVerifyRejectsUnknownAccount(t *testing.T) {
	verifier, tokens, _ := newTestVerifier(t)
	token, _, err := tokens.IssueSessionToken(context.Background(), 12)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	if _, err := verifier.Verify(context.Background(), mustCredential(t, 12, token)); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestVerifyRejectsStaleSessionToken(t *testing.T) {
	verifier, tokens, store := newTestVerifier(t)
	oldToken, _, err := tokens.IssueSessionToken(context.Background(), 12)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	later := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("handshake-secret"),
		Issuer:        "paintrig-auth",
		Audience:      "paintrig-collab",
		TokenTTL:      time.Hour,
		Clock:         func() time.Time { return time.Now().Add(time.Minute) },
	})
	newToken, _, err := later.IssueSessionToken(context.Background(), 12)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	// The account rotated to a fresh token; the old one still validates as a
	// JWT but no longer matches the stored secret.
	store.accounts[12] = &users.Account{ID: 12, SessionToken: newToken}

	if _, err := verifier.Verify(context.Background(), mustCredential(t, 12, oldToken)); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestVerifyRejectsSubjectMismatch(t *testing.T) {
	verifier, tokens, store := newTestVerifier(t)
	token, _, err := tokens.IssueSessionToken(context.Background(), 7)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	store.accounts[12] = &users.Account{ID: 12, SessionToken: token}

	if _, err := verifier.Verify(context.Background(), mustCredential(t, 12, token)); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	verifier, _, store := newTestVerifier(t)
	foreign := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("some-other-secret"),
		Issuer:        "paintrig-auth",
		Audience:      "paintrig-collab",
	})
	token, _, err := foreign.IssueSessionToken(context.Background(), 12)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	store.accounts[12] = &users.Account{ID: 12, SessionToken: token}

	if _, err := verifier.Verify(context.Background(), mustCredential(t, 12, token)); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}
