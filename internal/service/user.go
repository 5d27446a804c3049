package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimmerapp/glimmer/internal/model"
	"github.com/glimmerapp/glimmer/internal/repository"
)

type UserService struct {
	repo          repository.UserRepository
	signupCredits int
}

func NewUserService(repo repository.UserRepository, signupCredits int) *UserService {
	return &UserService{repo: repo, signupCredits: signupCredits}
}

// Resolve maps an authenticated token subject to a local user row, creating
// it with the signup credit grant on first sight and refreshing identity
// fields on every later call.
func (s *UserService) Resolve(ctx context.Context, subject, email, name string, isAdmin bool) (*model.User, error) {
	err := s.repo.Upsert(ctx, &model.User{
		ID:      subject,
		Email:   email,
		Name:    name,
		IsAdmin: isAdmin,
	}, s.signupCredits)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	user, err := s.repo.ByID(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	return user, nil
}

func (s *UserService) ByID(ctx context.Context, id string) (*model.User, error) {
	user, err := s.repo.ByID(ctx, id)
	if err == repository.ErrUserNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// Balance returns the user's current credit balance.
func (s *UserService) Balance(ctx context.Context, userID string) (int, error) {
	user, err := s.ByID(ctx, userID)
	if err != nil {
		return 0, err
	}

	slog.Debug("credit balance read", "user_id", userID, "credits", user.Credits)
	return user.Credits, nil
}
