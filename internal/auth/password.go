package auth

import "golang.org/x/crypto/bcrypt"

// ErrPasswordTooLong is returned for passwords over bcrypt's 72 byte limit.
var ErrPasswordTooLong = bcrypt.ErrPasswordTooLong

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
