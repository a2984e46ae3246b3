// Package auth
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown operator
// or a wrong password
var ErrInvalidCredentials = errors.New("invalid username or password")

// Operator is a configured account allowed to log in. PasswordHash is a
// bcrypt hash.
type Operator struct {
	Username     string
	PasswordHash string
}

// Service issues and validates operator tokens for the mutating dashboard
// routes
type Service struct {
	jwtSecret []byte
	issuer    string
	now       func() time.Time
	operators map[string][]byte
}

// Claims represents JWT token claims
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// NewService creates a new authentication service
func NewService(jwtSecret, issuer string) (*Service, error) {
	if len(jwtSecret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 characters")
	}
	if issuer == "" {
		issuer = "dashcore"
	}
	return &Service{
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
		now:       time.Now,
		operators: make(map[string][]byte),
	}, nil
}

// SetOperators replaces the accounts accepted by Authenticate
func (s *Service) SetOperators(ops []Operator) error {
	operators := make(map[string][]byte, len(ops))
	for _, op := range ops {
		if op.Username == "" {
			return errors.New("operator username is required")
		}
		if _, err := bcrypt.Cost([]byte(op.PasswordHash)); err != nil {
			return fmt.Errorf("operator %q: invalid password hash: %w", op.Username, err)
		}
		operators[op.Username] = []byte(op.PasswordHash)
	}
	s.operators = operators
	return nil
}

// Authenticate checks a username and password against the operators
func (s *Service) Authenticate(username, password string) error {
	hash, ok := s.operators[username]
	if !ok {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for an operator entry
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// IssueToken signs an HS256 token for username valid for ttl
func (s *Service) IssueToken(username string, ttl time.Duration) (string, time.Time, error) {
	if username == "" {
		return "", time.Time{}, errors.New("username is required")
	}
	issuedAt := s.now()
	expiresAt := issuedAt.Add(ttl)
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			Issuer:    s.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
