package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyCost = 12

// HashAPIKey returns the bcrypt hash stored in ADMIN_API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("api key is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), apiKeyCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hash), nil
}

// VerifyAPIKey compares key against hash. A mismatch is (false, nil); a
// malformed hash is an error.
func VerifyAPIKey(key, hash string) (bool, error) {
	if key == "" || hash == "" {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("api key verification failed: %w", err)
	}
	return true, nil
}
