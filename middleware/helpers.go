package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v4"
)

// Claim carrying the player id.
const jwtClaimUserID = "user_id"

var ErrInvalidToken = errors.New("invalid access token")

// JWTVerifier checks HS256 tokens locally. It is used when no auth service
// is configured.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) VerifyToken(_ context.Context, tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}
	return playerIDFromClaims(claims)
}

func playerIDFromClaims(claims jwt.MapClaims) (int, error) {
	raw, ok := claims[jwtClaimUserID]
	if !ok {
		return 0, fmt.Errorf("%w: missing '%s' claim", ErrInvalidToken, jwtClaimUserID)
	}

	var id int
	switch val := raw.(type) {
	case float64:
		if val != float64(int(val)) {
			return 0, fmt.Errorf("%w: '%s' claim is not an integer: %f", ErrInvalidToken, jwtClaimUserID, val)
		}
		id = int(val)
	case string:
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%w: '%s' claim is not numeric", ErrInvalidToken, jwtClaimUserID)
		}
		id = parsed
	default:
		return 0, fmt.Errorf("%w: invalid type for '%s' claim: %T", ErrInvalidToken, jwtClaimUserID, raw)
	}

	if id <= 0 {
		return 0, fmt.Errorf("%w: invalid user ID value %d", ErrInvalidToken, id)
	}
	return id, nil
}
