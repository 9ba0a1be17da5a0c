// Package auth registers users, checks credentials and issues HS256 tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTTL    = time.Hour
	DefaultIssuer = "pixelgate"
)

type Config struct {
	Secret     string
	TTL        time.Duration
	BcryptCost int
	Issuer     string
}

type Credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

type Session struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	User      domain.Identity `json:"user"`
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type Service struct {
	users    store.UserStore
	secret   []byte
	ttl      time.Duration
	cost     int
	issuer   string
	validate *validator.Validate
	now      func() time.Time
}

func NewService(users store.UserStore, cfg Config) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("jwt secret is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}

	return &Service{
		users:    users,
		secret:   []byte(cfg.Secret),
		ttl:      ttl,
		cost:     cost,
		issuer:   issuer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}, nil
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, email, password string) (domain.Identity, error) {
	creds, err := s.credentials(email, password)
	if err != nil {
		return domain.Identity{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cost)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.Create(ctx, creds.Email, string(hash))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("register %s: %w", creds.Email, err)
	}
	return user.Identity(), nil
}

// VerifyCredentials returns domain.ErrInvalidCredentials for both an unknown
// email and a wrong password.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (domain.Identity, error) {
	creds, err := s.credentials(email, password)
	if err != nil {
		return domain.Identity{}, err
	}

	user, ok, err := s.users.FindByEmail(ctx, creds.Email)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("find user: %w", err)
	}
	if !ok {
		return domain.Identity{}, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return domain.Identity{}, domain.ErrInvalidCredentials
	}
	return user.Identity(), nil
}

func (s *Service) IssueToken(identity domain.Identity) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *Service) VerifyToken(_ context.Context, token string) (domain.Identity, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return domain.Identity{}, &domain.UnauthorizedError{Reason: "invalid token"}
	}
	if c.Subject == "" {
		return domain.Identity{}, &domain.UnauthorizedError{Reason: "invalid token"}
	}
	return domain.Identity{UserID: c.Subject, Email: c.Email}, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	identity, err := s.VerifyCredentials(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	token, expiresAt, err := s.IssueToken(identity)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: expiresAt, User: identity}, nil
}

func (s *Service) credentials(email, password string) (Credentials, error) {
	creds := Credentials{Email: NormalizeEmail(email), Password: password}
	if err := s.validate.Struct(creds); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return Credentials{}, &domain.ValidationError{
				Field:  strings.ToLower(fe.Field()),
				Reason: fmt.Sprintf("failed %s constraint", fe.Tag()),
			}
		}
		return Credentials{}, fmt.Errorf("validate credentials: %w", err)
	}
	return creds, nil
}
