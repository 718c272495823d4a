// Package auth provides local username/password authentication and RS256
// access tokens for the REST API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/runfleet-io/runfleet/internal/db"
	"github.com/runfleet-io/runfleet/internal/repositories"
)

// Service authenticates users against the catalog and issues access
// tokens. Password hashes live encrypted at rest via EncryptedString; the
// Argon2id verification happens on the decrypted value.
type Service struct {
	users  repositories.UserRepository
	tokens *JWTManager
	logger *zap.Logger
}

func NewService(users repositories.UserRepository, tokens *JWTManager, logger *zap.Logger) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		logger: logger.Named("auth"),
	}
}

// Login validates username/password and returns a signed access token with
// the authenticated user. A missing user and a wrong password produce the
// same ErrInvalidCredentials so login attempts cannot enumerate usernames.
func (s *Service) Login(ctx context.Context, username, password string) (string, *db.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("auth: fetching user: %w", err)
	}

	if !VerifyPassword(password, string(user.PasswordHash)) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokens.GenerateAccessToken(user.ID.String(), user.Username, user.Role)
	if err != nil {
		return "", nil, err
	}

	if err := s.users.TouchLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		// Non-fatal bookkeeping; the login itself succeeded.
		s.logger.Warn("failed to record last login",
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
	}

	s.logger.Info("user logged in", zap.String("username", user.Username))
	return token, user, nil
}

// Validate verifies an access token and returns its claims.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	return s.tokens.ValidateAccessToken(tokenString)
}
