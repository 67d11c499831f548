package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/itscraftings/converse/internal/authz"
	"github.com/itscraftings/converse/internal/model"
	"github.com/itscraftings/converse/internal/store"
)

// SearchLimit caps searchUsers results.
const SearchLimit = 20

// ErrUsernameTaken is the message returned in CreateUsernameResponse.Error.
const ErrUsernameTaken = "Username already taken. Try another"

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// UserService handles user-related operations.
type UserService struct {
	store store.Store
	log   zerolog.Logger
}

func NewUserService(s store.Store, log zerolog.Logger) *UserService {
	return &UserService{store: s, log: log.With().Str("component", "user_service").Logger()}
}

// Me returns the stored record of the session user.
func (s *UserService) Me(ctx context.Context, sess *model.Session) (*model.User, error) {
	if err := authz.RequireSession(sess); err != nil {
		return nil, err
	}
	u, err := s.store.Users().Get(ctx, sess.User.ID)
	if err != nil {
		return nil, lookupFailure(s.log, "userId", "user", err)
	}
	return u, nil
}

// CreateUsername claims username for the session user. A taken name is reported
// in the response, not as an error. The storage UNIQUE constraint decides races;
// the lookup before the write only spares a failed statement.
func (s *UserService) CreateUsername(ctx context.Context, sess *model.Session, username string) (model.CreateUsernameResponse, error) {
	if err := authz.RequireSession(sess); err != nil {
		return model.CreateUsernameResponse{}, err
	}
	username = strings.TrimSpace(username)
	if !usernameRe.MatchString(username) {
		return model.CreateUsernameResponse{}, model.NewValidationError("username", "must be 3-32 characters of letters, digits, '_', '.' or '-'")
	}

	existing, err := s.store.Users().GetByUsername(ctx, username)
	switch {
	case err == nil && existing.ID == sess.User.ID:
		return model.CreateUsernameResponse{Success: true}, nil
	case err == nil:
		return model.CreateUsernameResponse{Error: ErrUsernameTaken}, nil
	case !errors.Is(err, model.ErrNotFound):
		return model.CreateUsernameResponse{}, storeFailure(s.log, "createUsername", "could not create username", err,
			map[string]interface{}{"user_id": sess.User.ID})
	}

	if err := s.store.Users().SetUsername(ctx, sess.User.ID, username); err != nil {
		switch {
		case errors.Is(err, model.ErrConflict):
			return model.CreateUsernameResponse{Error: ErrUsernameTaken}, nil
		case model.IsValidationError(err):
			return model.CreateUsernameResponse{}, err
		case errors.Is(err, model.ErrNotFound):
			return model.CreateUsernameResponse{}, model.NewNotFoundError("userId", "user not found")
		default:
			return model.CreateUsernameResponse{}, storeFailure(s.log, "createUsername", "could not create username", err,
				map[string]interface{}{"user_id": sess.User.ID})
		}
	}
	return model.CreateUsernameResponse{Success: true}, nil
}

// SearchUsers matches usernames case-insensitively, never returning the requester.
func (s *UserService) SearchUsers(ctx context.Context, sess *model.Session, substring string) ([]model.SearchedUser, error) {
	if err := authz.RequireSession(sess); err != nil {
		return nil, err
	}
	substring = strings.TrimSpace(substring)
	if substring == "" {
		return nil, model.NewValidationError("username", "is required")
	}
	out, err := s.store.Users().Search(ctx, substring, sess.User.ID, SearchLimit)
	if err != nil {
		return nil, lookupFailure(s.log, "username", "users", err)
	}
	return out, nil
}
