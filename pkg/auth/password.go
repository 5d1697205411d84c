package auth

import (
	"errors"
	"regexp"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength        = 6
	minPasswordStrengthScore = 2

	minUsernameLength = 3
	maxUsernameLength = 20

	bcryptCost = 10
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var avatarTypes = map[string]bool{
	"girl": true,
	"boy":  true,
}

// ValidateUsername checks the username against the account rules.
func ValidateUsername(username string) error {
	if len(username) < minUsernameLength {
		return errors.New("username must be at least 3 characters")
	}
	if len(username) > maxUsernameLength {
		return errors.New("username must be at most 20 characters")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username can only contain letters, numbers, underscores, and hyphens")
	}
	return nil
}

// ValidatePassword checks password length and strength.
func ValidatePassword(password string, userInputs ...string) error {
	if len(password) < minPasswordLength {
		return errors.New("password must be at least 6 characters")
	}
	result := zxcvbn.PasswordStrength(password, userInputs)
	if result.Score < minPasswordStrengthScore {
		return errors.New("password is too weak")
	}
	return nil
}

// ValidateAvatarType checks the avatar type against the known set.
func ValidateAvatarType(avatarType string) error {
	if !avatarTypes[avatarType] {
		return errors.New("invalid avatar type")
	}
	return nil
}

// HashPassword generates a bcrypt hash for the given password.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPassword reports whether the password matches the stored hash.
func CheckPassword(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
