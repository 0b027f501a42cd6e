// Package auth signs fixture users in: bcrypt-verified passwords and
// database-backed session cookies.
package auth

import (
	"context"
	"fmt"
	"strings"
	stdtime "time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/db"
	"github.com/kuitang/aihub-e2e/internal/errs"
)

// DefaultBcryptCost is the production cost for stored passwords.
const DefaultBcryptCost = 12

// Clock abstracts time for testability.
type Clock interface {
	Now() stdtime.Time
}

type realClock struct{}

func (realClock) Now() stdtime.Time { return stdtime.Now() }

// PasswordHasher hashes and verifies account passwords.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, encodedHash string) bool
}

// BcryptHasher implements PasswordHasher with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a bcrypt hasher; out-of-range costs fall back to
// DefaultBcryptCost.
func NewBcryptHasher(cost int) BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return BcryptHasher{cost: cost}
}

func (h BcryptHasher) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (h BcryptHasher) VerifyPassword(password, encodedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password)) == nil
}

// Users verifies credentials against the store.
type Users struct {
	store  *db.Store
	hasher PasswordHasher

	// dummyHash is compared against when the username is unknown so both
	// failure paths cost one hash verification.
	dummyHash string
}

// NewUsers creates the account service.
func NewUsers(store *db.Store, hasher PasswordHasher) (*Users, error) {
	dummy, err := hasher.HashPassword("not-a-real-password")
	if err != nil {
		return nil, err
	}
	return &Users{store: store, hasher: hasher, dummyHash: dummy}, nil
}

// EnsureAccount creates the account for creds unless the username exists.
func (u *Users) EnsureAccount(ctx context.Context, creds config.Credentials) (db.User, error) {
	if creds.IsZero() {
		return db.User{}, errs.New(errs.InvalidArgument, "account needs a username and password")
	}
	existing, err := u.store.UserByName(ctx, creds.Identifier())
	if err == nil {
		return existing, nil
	}
	if !errs.Is(err, errs.NotFound) {
		return db.User{}, err
	}
	hash, err := u.hasher.HashPassword(creds.Secret())
	if err != nil {
		return db.User{}, err
	}
	return u.store.CreateUser(ctx, db.User{Username: creds.Identifier(), PasswordHash: hash})
}

// Authenticate returns the user for a matching username and password.
// Every mismatch is the same unauthenticated error.
func (u *Users) Authenticate(ctx context.Context, username, password string) (db.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return db.User{}, errs.New(errs.InvalidArgument, "Please enter your username and password")
	}
	user, err := u.store.UserByName(ctx, username)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			u.hasher.VerifyPassword(password, u.dummyHash)
			return db.User{}, errs.New(errs.Unauthenticated, "Invalid username or password")
		}
		return db.User{}, err
	}
	if !u.hasher.VerifyPassword(password, user.PasswordHash) {
		return db.User{}, errs.New(errs.Unauthenticated, "Invalid username or password")
	}
	return user, nil
}
