package identity

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/giantswarm/team-broker/apperrors"
)

// Claims are carried in dashboard bearer tokens.
type Claims struct {
	UserID int64  `json:"uid"`
	Handle string `json:"handle"`
	jwt.RegisteredClaims
}

type tokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func (ti *tokenIssuer) issue(userID int64, handle string) (string, time.Time, error) {
	now := ti.now()
	expiresAt := now.Add(ti.ttl)

	claims := Claims{
		UserID: userID,
		Handle: handle,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (ti *tokenIssuer) verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return ti.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ti.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidToken, err)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing user id", apperrors.ErrInvalidToken)
	}
	return claims, nil
}
