package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/apperrors"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/auth"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/config"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/models"
	"github.com/fieldtrace-io/fieldtrace-engine/pkg/repositories"
)

// IdentityService handles account registration and session issuance.
type IdentityService interface {
	// Register creates an account and returns a session token for it.
	// A duplicate username returns apperrors.ErrConflict.
	Register(ctx context.Context, username, password, displayName string) (*models.User, string, error)

	// Login verifies credentials and returns a fresh session token.
	// Unknown usernames and wrong passwords both return apperrors.ErrPermissionDenied.
	Login(ctx context.Context, username, password string) (*models.User, string, error)

	// Logout revokes the presented session token.
	Logout(ctx context.Context, token string) error

	// GetUser retrieves one account by id.
	GetUser(ctx context.Context, id int64) (*models.User, error)

	// SetTag attaches a free-form label to the account.
	SetTag(ctx context.Context, userID int64, tag string) error
}

type identityService struct {
	userRepo    repositories.UserRepository
	authService auth.Service
	limits      config.LimitsConfig
	logger      *zap.Logger
}

func NewIdentityService(
	userRepo repositories.UserRepository,
	authService auth.Service,
	limits config.LimitsConfig,
	logger *zap.Logger,
) IdentityService {
	return &identityService{
		userRepo:    userRepo,
		authService: authService,
		limits:      limits,
		logger:      logger.Named("identity-service"),
	}
}

var _ IdentityService = (*identityService)(nil)

func (s *identityService) Register(ctx context.Context, username, password, displayName string) (*models.User, string, error) {
	username = strings.TrimSpace(username)
	if len(username) < s.limits.MinUsernameLen {
		return nil, "", fmt.Errorf("%w: username must be at least %d characters", apperrors.ErrValidation, s.limits.MinUsernameLen)
	}
	if len(password) < s.limits.MinPasswordLen {
		return nil, "", fmt.Errorf("%w: password must be at least %d characters", apperrors.ErrValidation, s.limits.MinPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.authService.IssueToken(ctx, user)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue session token: %w", err)
	}

	s.logger.Info("Account registered",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username))

	return user, token, nil
}

func (s *identityService) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	user, err := s.userRepo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		// Do not leak which usernames exist.
		return nil, "", apperrors.ErrPermissionDenied
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", apperrors.ErrPermissionDenied
	}

	token, err := s.authService.IssueToken(ctx, user)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue session token: %w", err)
	}
	return user, token, nil
}

func (s *identityService) Logout(ctx context.Context, token string) error {
	return s.authService.RevokeToken(ctx, token)
}

func (s *identityService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

func (s *identityService) SetTag(ctx context.Context, userID int64, tag string) error {
	return s.userRepo.SetTag(ctx, userID, tag)
}
