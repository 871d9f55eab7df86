// Package auth authenticates reviewers who record manual decisions on loan
// applications.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// TokenHeader carries either a shared reviewer credential or a signed
// reviewer token
const TokenHeader = "X-Reviewer-Token"

// ErrInvalidCredential is returned for any credential that does not
// authenticate a reviewer
var ErrInvalidCredential = errors.New("invalid reviewer credential")

// Authenticator resolves a credential to a reviewer identity
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// SharedTokenAuthenticator accepts a single shared credential, stored only as
// a bcrypt hash
type SharedTokenAuthenticator struct {
	hash     []byte
	identity string
}

// NewSharedTokenAuthenticator creates an authenticator from a bcrypt hash.
// identity is reported for every successful authentication.
func NewSharedTokenAuthenticator(hash, identity string) (*SharedTokenAuthenticator, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("reviewer token hash is not a bcrypt hash: %w", err)
	}
	if identity == "" {
		identity = "reviewer"
	}
	return &SharedTokenAuthenticator{hash: []byte(hash), identity: identity}, nil
}

func (a *SharedTokenAuthenticator) Authenticate(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
		return "", ErrInvalidCredential
	}
	return a.identity, nil
}

// HashToken hashes a shared credential for configuration
func HashToken(token string, cost int) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errors.New("reviewer token is empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Chain tries each authenticator in order and returns the first identity
type Chain []Authenticator

func (c Chain) Authenticate(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrInvalidCredential
	}
	var errs []error
	for _, a := range c {
		identity, err := a.Authenticate(token)
		if err == nil {
			return identity, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", ErrInvalidCredential
	}
	return "", errors.Join(errs...)
}
