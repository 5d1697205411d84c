package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// TokenClaims is the verified identity carried by a token.
type TokenClaims struct {
	PlayerID int64
	Username string
}

// TokenService issues and verifies identity tokens.
type TokenService interface {
	Generate(playerID int64, username string) (string, error)
	VerifyToken(ctx context.Context, token string) (*TokenClaims, error)
}

type JWTService struct {
	secretKey []byte
	issuer    string
	expiry    time.Duration
}

var _ TokenService = &JWTService{}

// NewJWTService creates an HS256 token service.
func NewJWTService(secretKey string, issuer string, expiry time.Duration) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		expiry:    expiry,
	}
}

// Generate creates a signed token for the given player.
func (s *JWTService) Generate(playerID int64, username string) (string, error) {
	claims := jwt.MapClaims{
		"id":       playerID,
		"username": username,
		"iss":      s.issuer,
		"exp":      time.Now().UTC().Add(s.expiry).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %v", err)
	}
	return signed, nil
}

// VerifyToken parses and validates a token and returns its claims.
func (s *JWTService) VerifyToken(_ context.Context, tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, s.getSigningKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	id, ok := claims["id"].(float64)
	if !ok {
		return nil, fmt.Errorf("token is missing the id claim")
	}

	username, ok := claims["username"].(string)
	if !ok {
		return nil, fmt.Errorf("token is missing the username claim")
	}

	return &TokenClaims{
		PlayerID: int64(id),
		Username: username,
	}, nil
}

func (s *JWTService) getSigningKey(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return s.secretKey, nil
}
