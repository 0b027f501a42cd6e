package auth

import "strings"

// FakeInsecureHasher stores passwords as "$fake$<plaintext>". Tests and the
// in-process e2e fixture use it to skip bcrypt cost; never in production.
type FakeInsecureHasher struct{}

func (FakeInsecureHasher) HashPassword(password string) (string, error) {
	return "$fake$" + password, nil
}

func (FakeInsecureHasher) VerifyPassword(password, encodedHash string) bool {
	rest, ok := strings.CutPrefix(encodedHash, "$fake$")
	return ok && rest == password
}
