package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/suPer8Hu/chatstream/internal/common"
	"github.com/suPer8Hu/chatstream/internal/models"
	"gorm.io/gorm"
)

var (
	ErrSecretRequired     = errors.New("auth: jwt secret required")
	ErrInvalidEmail       = errors.New("auth: invalid email")
	ErrPasswordTooWeak    = errors.New("auth: password must be at least 6 characters")
	ErrEmailExists        = errors.New("auth: email already registered")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserNotFound       = errors.New("auth: user not found")
)

// Revoker remembers signed-out token ids until they would have expired anyway.
type Revoker interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Identity is what a verified bearer token resolves to.
type Identity struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

type Result struct {
	Token     string
	ExpiresAt time.Time
	User      models.User
}

type Service struct {
	db      *gorm.DB
	secret  string
	ttl     time.Duration
	revoker Revoker
}

// NewService wires the credential store and token settings. A nil revoker
// falls back to an in-process revocation list.
func NewService(db *gorm.DB, secret string, ttl time.Duration, revoker Revoker) (*Service, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSecretRequired
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if revoker == nil {
		revoker = NewMemoryRevoker()
	}
	return &Service{db: db, secret: secret, ttl: ttl, revoker: revoker}, nil
}

func (s *Service) Signup(ctx context.Context, email, password, name string) (*Result, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	if len(password) < 6 {
		return nil, ErrPasswordTooWeak
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	user := models.User{ID: id, Email: email, PasswordHash: hash}
	if n := strings.TrimSpace(name); n != "" {
		user.Name = &n
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		// unique index on email is the arbiter; a lookup tells a conflict apart from a store failure
		var existing models.User
		if getErr := s.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error; getErr == nil {
			return nil, ErrEmailExists
		}
		return nil, err
	}

	return s.issue(user)
}

func (s *Service) Signin(ctx context.Context, email, password string) (*Result, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

// Verify resolves a bearer token to the caller's identity.
func (s *Service) Verify(ctx context.Context, bearer string) (*Identity, error) {
	claims, err := ParseJWT(bearer, s.secret)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrInvalidToken
	}
	id := &Identity{UserID: claims.Subject, TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

func (s *Service) Signout(ctx context.Context, id *Identity) error {
	if id == nil || id.TokenID == "" {
		return nil
	}
	ttl := time.Until(id.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.revoker.RevokeToken(ctx, id.TokenID, ttl)
}

func (s *Service) Me(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Service) issue(user models.User) (*Result, error) {
	token, claims, err := SignJWT(user.ID, s.secret, s.ttl)
	if err != nil {
		return nil, err
	}
	return &Result{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: user}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
