package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/liverylab/paintrig/backend/internal/users"
)

var (
	// ErrMissingCredential indicates that the handshake carried no credential blob.
	ErrMissingCredential = errors.New("auth: missing credential")
	// ErrMalformedCredential indicates a credential blob that does not decode
	// into the expected shape.
	ErrMalformedCredential = errors.New("auth: malformed credential")
	// ErrInvalidCredential indicates a well-formed credential that names an
	// unknown account or carries a stale session token.
	ErrInvalidCredential = errors.New("auth: invalid credential")

	errMissingAccounts = errors.New("auth: account store is required")
	errMissingTokens   = errors.New("auth: token issuer is required")
)

// AccountStore is the single credential lookup the handshake performs.
type AccountStore interface {
	GetByID(ctx context.Context, id int64) (*users.Account, error)
}

// Credential is the blob a browser session hands over when opening its
// collaboration connection.
type Credential struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token"`
}

// HandshakeVerifier authenticates new persistent connections before any
// collaboration event can flow.
type HandshakeVerifier struct {
	accounts AccountStore
	tokens   *TokenIssuer
}

// NewHandshakeVerifier constructs a verifier over the account store and token issuer.
func NewHandshakeVerifier(accounts AccountStore, tokens *TokenIssuer) (*HandshakeVerifier, error) {
	if accounts == nil {
		return nil, errMissingAccounts
	}
	if tokens == nil {
		return nil, errMissingTokens
	}
	return &HandshakeVerifier{accounts: accounts, tokens: tokens}, nil
}

// Verify authenticates the raw credential blob and returns the account id the
// connection acts as. The identity is fixed for the connection's lifetime;
// re-authentication is not supported.
func (v *HandshakeVerifier) Verify(ctx context.Context, blob []byte) (int64, error) {
	if len(strings.TrimSpace(string(blob))) == 0 {
		return 0, ErrMissingCredential
	}

	var credential Credential
	if err := json.Unmarshal(blob, &credential); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	if credential.UserID <= 0 || strings.TrimSpace(credential.Token) == "" {
		return 0, fmt.Errorf("%w: incomplete credential", ErrMalformedCredential)
	}

	subject, err := v.tokens.ValidateToken(credential.Token)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if subject != credential.UserID {
		return 0, fmt.Errorf("%w: subject mismatch", ErrInvalidCredential)
	}

	account, err := v.accounts.GetByID(ctx, credential.UserID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if subtle.ConstantTimeCompare([]byte(account.SessionToken), []byte(credential.Token)) != 1 {
		return 0, fmt.Errorf("%w: stale session token", ErrInvalidCredential)
	}

	return account.ID, nil
}
