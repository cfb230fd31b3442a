package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/restaurant-ordering/api/internal/domain"
	"github.com/restaurant-ordering/api/internal/platform/textutil"
	"github.com/restaurant-ordering/api/internal/repositories"
)

const (
	minDisplayNameLength = 2
	maxDisplayNameLength = 100

	userEventProfileUpdate = "user.profile.update"
	userEventActivate      = "user.profile.activate"
	userEventDeactivate    = "user.profile.deactivate"
)

var (
	// ErrUserInvalidInput indicates the caller supplied invalid data to a user operation.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserInvalidDisplayName indicates the supplied display name failed validation.
	ErrUserInvalidDisplayName = errors.New("user: invalid display name")
	// ErrUserNotFound indicates the profile does not exist.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserForbidden indicates the principal may not read or change the profile.
	ErrUserForbidden = errors.New("user: forbidden")
	// ErrUserProfileConflict indicates the profile was modified concurrently.
	ErrUserProfileConflict = errors.New("user: profile has been modified")
	// ErrUserUnavailable indicates the profile store could not be reached.
	ErrUserUnavailable = errors.New("user: store unavailable")
)

// UserServiceDeps bundles the dependencies required to construct a user service instance.
type UserServiceDeps struct {
	Users  repositories.UserRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users  repositories.UserRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

var _ UserService = (*userService)(nil)

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &userService{
		users: deps.Users,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *userService) GetProfile(ctx context.Context, userID string, principal *Principal) (User, error) {
	userID = strings.TrimSpace(userID)
	if err := authorizeProfileAccess(userID, principal); err != nil {
		return User{}, err
	}
	return s.getProfile(ctx, userID, principal)
}

func (s *userService) ListUsers(ctx context.Context, filter UserListFilter) (domain.OffsetPage[User], error) {
	page, err := s.users.List(ctx, repositories.UserListFilter{
		ActiveOnly: !filter.IncludeInactive,
		Pagination: filter.Pagination.Normalize(),
	})
	if err != nil {
		return domain.OffsetPage[User]{}, mapUserError(err)
	}
	return page, nil
}

func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (User, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if err := authorizeProfileAccess(userID, cmd.Principal); err != nil {
		return User{}, err
	}
	if cmd.DisplayName == nil {
		return User{}, fmt.Errorf("%w: at least one field is required", ErrUserInvalidInput)
	}
	profile, err := s.getProfile(ctx, userID, cmd.Principal)
	if err != nil {
		return User{}, err
	}

	updated, changes, err := applyProfileUpdates(profile, cmd)
	if err != nil {
		return User{}, err
	}
	if len(changes) == 0 {
		return profile, nil
	}

	updated.UpdatedAt = s.clock()
	if err := s.users.Update(ctx, updated); err != nil {
		return User{}, mapUserError(err)
	}
	s.logger(ctx, userEventProfileUpdate, map[string]any{
		"user":    updated.ID,
		"actor":   cmd.Principal.ID,
		"changes": changes,
	})
	return updated, nil
}

// SetUserActive is reserved to admins, who cannot deactivate themselves.
func (s *userService) SetUserActive(ctx context.Context, cmd SetUserActiveCommand) (User, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	if !cmd.Principal.IsAdmin() {
		return User{}, fmt.Errorf("%w: only admins can change account status", ErrUserForbidden)
	}
	if !cmd.IsActive && strings.TrimSpace(cmd.Principal.ID) == userID {
		return User{}, fmt.Errorf("%w: admins cannot deactivate themselves", ErrUserInvalidInput)
	}

	profile, err := s.getProfile(ctx, userID, nil)
	if err != nil {
		return User{}, err
	}
	if profile.IsActive == cmd.IsActive {
		return profile, nil
	}

	updated := profile
	updated.IsActive = cmd.IsActive
	updated.UpdatedAt = s.clock()
	if err := s.users.Update(ctx, updated); err != nil {
		return User{}, mapUserError(err)
	}

	event := userEventDeactivate
	if cmd.IsActive {
		event = userEventActivate
	}
	fields := map[string]any{
		"user":     updated.ID,
		"actor":    cmd.Principal.ID,
		"isActive": diffValue(profile.IsActive, cmd.IsActive),
	}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		fields["reason"] = reason
	}
	s.logger(ctx, event, fields)
	return updated, nil
}

// getProfile loads the profile, seeding it from seed when seed is the profile's owner and no
// profile is stored yet.
func (s *userService) getProfile(ctx context.Context, userID string, seed *Principal) (User, error) {
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	profile, err := s.users.FindByID(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if seed == nil || strings.TrimSpace(seed.ID) != userID || !isRepositoryNotFound(err) {
		return User{}, mapUserError(err)
	}

	fresh := User{
		ID:          userID,
		Email:       strings.TrimSpace(seed.Email),
		DisplayName: strings.TrimSpace(seed.DisplayName),
		IsActive:    true,
		UpdatedAt:   s.clock(),
	}
	if err := s.users.Upsert(ctx, fresh); err != nil {
		return User{}, mapUserError(err)
	}
	saved, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, mapUserError(err)
	}
	return saved, nil
}

func authorizeProfileAccess(userID string, principal *Principal) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	if principal == nil || strings.TrimSpace(principal.ID) == "" {
		return fmt.Errorf("%w: authentication required", ErrUserForbidden)
	}
	if strings.TrimSpace(principal.ID) != userID && !principal.IsAdmin() {
		return fmt.Errorf("%w: cannot access another user's profile", ErrUserForbidden)
	}
	return nil
}

func applyProfileUpdates(existing User, cmd UpdateProfileCommand) (User, map[string]any, error) {
	after := existing
	changes := make(map[string]any)

	if cmd.DisplayName != nil {
		name := textutil.SanitizePlainText(*cmd.DisplayName)
		if err := validateDisplayName(name); err != nil {
			return User{}, nil, err
		}
		if name != existing.DisplayName {
			after.DisplayName = name
			changes["displayName"] = diffValue(existing.DisplayName, name)
		}
	}
	return after, changes, nil
}

func validateDisplayName(name string) error {
	length := textutil.RuneLength(name)
	if length < minDisplayNameLength || length > maxDisplayNameLength {
		return fmt.Errorf("%w: must be between %d and %d characters",
			ErrUserInvalidDisplayName, minDisplayNameLength, maxDisplayNameLength)
	}
	return nil
}

func diffValue(from, to any) map[string]any {
	return map[string]any{"from": from, "to": to}
}

func mapUserError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s", ErrUserProfileConflict, conflictDetail(err))
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUserUnavailable, err)
		}
	}
	return err
}
