package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	return BcryptHasher{}.HashPassword(password)
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	return BcryptHasher{}.ComparePasswordAndHash(password, hash)
}

// DefaultPasswordCost is the bcrypt work factor used when none is configured
const DefaultPasswordCost = 12

// BcryptHasher implements PasswordAuthenticator. A zero Cost uses
// DefaultPasswordCost.
type BcryptHasher struct {
	Cost int
}

var _ PasswordAuthenticator = BcryptHasher{}

// HashPassword returns the salted bcrypt hash of password
func (b BcryptHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", newError(ErrNoEmptyString, nil)
	}

	cost := b.Cost
	switch {
	case cost == 0:
		cost = DefaultPasswordCost
	case cost < bcrypt.MinCost, cost > bcrypt.MaxCost:
		cost = bcrypt.DefaultCost
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(h), err
}

// ComparePasswordAndHash returns ErrInvalidCredentials on mismatch
func (b BcryptHasher) ComparePasswordAndHash(password, hash string) error {
	if hash == "" {
		return newError(ErrInvalidCredentials, nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return newError(ErrInvalidCredentials, nil)
		}
		return err
	}
	return nil
}
