package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTokenTTL = 24 * time.Hour

// Service issues and checks the operator tokens that guard write routes.
type Service struct {
	secret []byte
}

type Claims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// IssueToken signs a token for operator valid for ttl; a non-positive ttl
// uses DefaultTokenTTL.
func (s *Service) IssueToken(operator string, ttl time.Duration) (TokenResponse, error) {
	if operator == "" {
		return TokenResponse{}, errors.New("operator required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	token, err := s.signToken(operator, ttl)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
	}, nil
}

func (s *Service) ValidateToken(token string) (string, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return "", err
	}
	return claims.Operator, nil
}

func (s *Service) signToken(operator string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) parseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}
