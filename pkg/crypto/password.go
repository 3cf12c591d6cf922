package crypto

import "golang.org/x/crypto/bcrypt"

// HashPassword derives a bcrypt hash at the default cost.
func HashPassword(plain string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
}

// ComparePassword reports whether plain matches the stored hash. The
// returned error is bcrypt's mismatch error, not a sentinel of ours.
func ComparePassword(hash []byte, plain string) error {
	return bcrypt.CompareHashAndPassword(hash, []byte(plain))
}
