package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// MinPasswordLength is enforced on every password a user chooses.
const MinPasswordLength = 8

// GeneratePassword returns a random temporary password and its bcrypt hash.
func GeneratePassword() (plain, hash string, err error) {
	plain, err = randomString(passwordAlphabet, 14)
	if err != nil {
		return "", "", err
	}
	hash, err = HashPassword(plain)
	if err != nil {
		return "", "", err
	}
	return plain, hash, nil
}

// HashPassword hashes plain with bcrypt.
func HashPassword(plain string) (string, error) {
	if len(plain) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func randomString(alphabet string, n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
