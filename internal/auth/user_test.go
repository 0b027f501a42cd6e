package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/aihub-e2e/internal/config"
	"github.com/kuitang/aihub-e2e/internal/errs"
	"github.com/kuitang/aihub-e2e/internal/testdb"
)

// TestPasswordHasher_Contract checks the PasswordHasher contract on the
// fake hasher: own password verifies, any other does not.
func TestPasswordHasher_Contract(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		var hasher PasswordHasher = FakeInsecureHasher{}
		password := rapid.StringN(8, 100, 200).Draw(t, "password")
		other := rapid.StringN(8, 50, 100).Filter(func(s string) bool { return s != password }).Draw(t, "other")

		hash, err := hasher.HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword failed: %v", err)
		}
		if !hasher.VerifyPassword(password, hash) {
			t.Fatalf("VerifyPassword failed for password %q", password)
		}
		if hasher.VerifyPassword(other, hash) {
			t.Fatalf("VerifyPassword accepted a wrong password")
		}
	})
}

// TestPassword_Bcrypt_NonDeterministic verifies that real bcrypt hashing is salted.
func TestPassword_Bcrypt_NonDeterministic(t *testing.T) {
	t.Parallel()
	h := NewBcryptHasher(4)
	hash1, err := h.HashPassword("test-password")
	if err != nil {
		t.Fatalf("first HashPassword failed: %v", err)
	}
	hash2, err := h.HashPassword("test-password")
	if err != nil {
		t.Fatalf("second HashPassword failed: %v", err)
	}
	if hash1 == hash2 {
		t.Fatalf("hashing is deterministic - salt is not random")
	}
	if !h.VerifyPassword("test-password", hash1) || h.VerifyPassword("other", hash1) {
		t.Fatalf("bcrypt verification mismatch")
	}
}

func TestUsers_Authenticate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	users, err := NewUsers(testdb.New(t), FakeInsecureHasher{})
	require.NoError(t, err)

	created, err := users.EnsureAccount(ctx, config.NewCredentials("admin", "s3cret"))
	require.NoError(t, err)
	again, err := users.EnsureAccount(ctx, config.NewCredentials("admin", "changed"))
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID, "existing accounts are left alone")

	u, err := users.Authenticate(ctx, " admin ", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, created.ID, u.ID)

	tests := []struct {
		name, user, pass string
		code             errs.Code
	}{
		{"wrong password", "admin", "changed", errs.Unauthenticated},
		{"unknown user", "ghost", "s3cret", errs.Unauthenticated},
		{"blank user", "  ", "s3cret", errs.InvalidArgument},
		{"blank password", "admin", "", errs.InvalidArgument},
	}
	for _, tc := range tests {
		_, err := users.Authenticate(ctx, tc.user, tc.pass)
		assert.Equal(t, tc.code, errs.CodeOf(err), tc.name)
	}

	_, err = users.EnsureAccount(ctx, config.NewCredentials("", ""))
	assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}
