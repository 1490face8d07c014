package utils

import (
	"errors"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
)

type SessionClaims struct {
	EmployeeId string `json:"employee_id"`
	Role       string `json:"role"`
	jwt.StandardClaims
}

var ErrorTokenExpired = errors.New("session token expired, sign in again before syncing")

// CheckSessionToken inspects the backend-issued session token before any sync
// traffic is attempted. The device does not hold the signing secret, so the
// claims are read unverified; the backend remains the authority and will
// reject a forged token anyway. An expired token short-circuits the sync with
// one clear error instead of a 401 per request.
func CheckSessionToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("session token missing")
	}

	claims := &SessionClaims{}
	parser := jwt.Parser{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return err
	}
	if claims.ExpiresAt > 0 && time.Now().Unix() >= claims.ExpiresAt {
		return ErrorTokenExpired
	}
	return nil
}
