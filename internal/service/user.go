package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/delivery-matching/internal/models"
)

const MaxDisplayNameLength = 80

type UserStore interface {
	UserReader
	CreateUser(ctx context.Context, u models.User) (models.User, error)
}

type UserService struct {
	Store UserStore
	Now   func() time.Time
}

// Register creates the profile for uid with zeroed counters and rating.
// A second registration for the same uid returns models.ErrAlreadyExists.
func (s *UserService) Register(ctx context.Context, uid, displayName, photoURL string) (models.User, error) {
	uid, displayName = strings.TrimSpace(uid), strings.TrimSpace(displayName)
	switch {
	case uid == "":
		return models.User{}, fmt.Errorf("service.UserService.Register: uid is required: %w", models.ErrInvalidArgument)
	case displayName == "":
		return models.User{}, fmt.Errorf("service.UserService.Register: display_name is required: %w", models.ErrInvalidArgument)
	case utf8.RuneCountInString(displayName) > MaxDisplayNameLength:
		return models.User{}, fmt.Errorf("service.UserService.Register: display_name longer than %d characters: %w", MaxDisplayNameLength, models.ErrInvalidArgument)
	}
	now := nowOr(s.Now)
	u, err := s.Store.CreateUser(ctx, models.User{
		UID:         uid,
		DisplayName: displayName,
		PhotoURL:    strings.TrimSpace(photoURL),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return models.User{}, fmt.Errorf("service.UserService.Register: %w", err)
	}
	return u, nil
}

func (s *UserService) Get(ctx context.Context, uid string) (models.User, error) {
	u, err := s.Store.GetUser(ctx, uid)
	if err != nil {
		return models.User{}, fmt.Errorf("service.UserService.Get: %w", err)
	}
	return u, nil
}
