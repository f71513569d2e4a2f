package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/contribium/contribium/internal/model"
	"github.com/contribium/contribium/internal/store"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrUnknownUser  = errors.New("unknown user")
)

// TokenStore is the part of the store the auth service needs.
type TokenStore interface {
	CreateToken(ctx context.Context, token *store.Token) error
	GetToken(ctx context.Context, tokenStr string) (*store.Token, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Service issues bearer tokens and resolves them to viewers
type Service struct {
	store    TokenStore
	tokenTTL time.Duration
}

// NewService creates a new auth service
func NewService(s TokenStore, tokenTTL time.Duration) *Service {
	return &Service{
		store:    s,
		tokenTTL: tokenTTL,
	}
}

// IssueToken creates an access token for an existing user
func (s *Service) IssueToken(ctx context.Context, userID string) (*store.Token, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, err
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, err
	}

	token := &store.Token{
		ID:        uuid.New().String(),
		UserID:    userID,
		Token:     base64.URLEncoding.EncodeToString(tokenBytes),
		ExpiresAt: time.Now().UTC().Add(s.tokenTTL),
	}

	if err := s.store.CreateToken(ctx, token); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}

	return token, nil
}

// ValidateToken resolves a bearer token to the viewer it was issued for
func (s *Service) ValidateToken(ctx context.Context, tokenStr string) (model.Viewer, error) {
	if tokenStr == "" {
		return model.Viewer{}, ErrInvalidToken
	}

	token, err := s.store.GetToken(ctx, tokenStr)
	if errors.Is(err, store.ErrNotFound) {
		return model.Viewer{}, ErrInvalidToken
	}
	if err != nil {
		return model.Viewer{}, err
	}

	user, err := s.store.GetUser(ctx, token.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return model.Viewer{}, ErrInvalidToken
	}
	if err != nil {
		return model.Viewer{}, err
	}

	return user.Viewer(), nil
}

// HashIP creates a hash of an IP address for rate limit keys
func HashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(hash[:16])
}
