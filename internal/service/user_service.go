package service

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/example/civictrack/internal/auth"
	"github.com/example/civictrack/internal/models"
	"github.com/example/civictrack/internal/repository"
)

// UserService handles staff accounts and login.
type UserService struct {
	users  repository.UserRepository
	tokens *auth.TokenManager
	logger *slog.Logger
	now    func() time.Time
	// compared against when the username is unknown so both paths cost one
	// bcrypt comparison
	dummyHash string
}

func NewUserService(users repository.UserRepository, tokens *auth.TokenManager, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	dummy, err := auth.HashPassword(uuid.NewString())
	if err != nil {
		logger.Warn("generate dummy password hash", "error", err)
	}
	return &UserService{
		users:     users,
		tokens:    tokens,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		dummyHash: dummy,
	}
}

// LoginResult is returned on successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *models.User
}

// Login checks credentials and issues an access token.
func (s *UserService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if user == nil {
		auth.CheckPassword(s.dummyHash, password)
		return nil, errors.WithStack(ErrInvalidCredentials)
	}
	if !auth.CheckPassword(user.PasswordHash, password) || !user.IsActive() {
		s.logger.Info("login rejected", "username", user.Username)
		return nil, errors.WithStack(ErrInvalidCredentials)
	}
	token, exp, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.users.TouchLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("record last login", "user_id", user.ID, "error", err)
	}
	user.LastLogin = &now
	return &LoginResult{Token: token, ExpiresAt: exp, User: user}, nil
}

// CreateUserInput describes a new staff account.
type CreateUserInput struct {
	Username   string
	Email      string
	Password   string
	FirstName  string
	LastName   string
	Department string
	Role       string
	Language   string
}

// CreateUser validates input and stores a new active account.
func (s *UserService) CreateUser(ctx context.Context, in CreateUserInput) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, invalid("username", "is required")
	}
	if len(in.Password) < 8 {
		return nil, invalid("password", "must be at least 8 characters")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return nil, invalid("email", "invalid email address")
	}
	role, err := models.ParseRole(in.Role)
	if err != nil {
		return nil, invalid("role", "must be admin, supervisor or staff")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	lang := in.Language
	if lang == "" {
		lang = defaultLanguage
	}
	user := &models.User{
		Username:     username,
		Email:        addr.Address,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Department:   in.Department,
		Role:         role,
		Status:       models.UserActive,
		Language:     lang,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, invalid("username", "username or email already taken")
		}
		return nil, err
	}
	s.logger.Info("user created", "user_id", user.ID, "username", user.Username, "role", user.Role)
	return user, nil
}

// EnsureAdmin creates an admin account unless the username already exists.
func (s *UserService) EnsureAdmin(ctx context.Context, username, password, email string) error {
	if username == "" || password == "" {
		return nil
	}
	_, err := s.users.FindByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	_, err = s.CreateUser(ctx, CreateUserInput{
		Username:  username,
		Email:     email,
		Password:  password,
		FirstName: "System",
		LastName:  "Administrator",
		Role:      string(models.RoleAdmin),
	})
	return err
}

// Me returns the account of an authenticated actor.
func (s *UserService) Me(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errors.WithStack(ErrUserNotFound)
	}
	return user, err
}

// ActiveUsers lists accounts that may be assigned as case workers.
func (s *UserService) ActiveUsers(ctx context.Context) ([]models.User, error) {
	return s.users.ListActive(ctx)
}
