package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perchmarket/perch/backend/internal/auth"
	"github.com/perchmarket/perch/backend/internal/oauth"
)

var (
	// ErrEmailTaken indicates a local registration collided with an existing account.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates a local login with an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")

	errMissingStore     = errors.New("users: store is required")
	errMissingSubjectID = errors.New("users: profile subject id is required")
	errEmptyField       = errors.New("users: email and password are required")
)

// IDProvider issues internal user identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// ServiceConfig describes the dependencies for identity reconciliation and
// local account management.
type ServiceConfig struct {
	Store      Store
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service reconciles external identities against the user table and manages
// local password accounts.
type Service struct {
	store      Store
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, idProvider: idProvider, logger: logger}, nil
}

// Reconcile maps an external profile to a local account, provisioning one when
// the provider subject has not been seen before. Repeat logins are idempotent
// and never mutate the stored row. A concurrent duplicate creation is
// recovered by re-querying for the row the other flow created.
func (s *Service) Reconcile(ctx context.Context, profile oauth.Profile) (User, error) {
	subject := strings.TrimSpace(profile.SubjectID)
	if subject == "" {
		return User{}, errMissingSubjectID
	}

	existing, err := s.store.FindByGoogleID(ctx, subject)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return User{}, err
	}

	created, err := s.store.Create(ctx, User{
		ID:          id,
		DisplayName: strings.TrimSpace(profile.DisplayName),
		Email:       strings.TrimSpace(profile.Email),
		GoogleID:    &subject,
		AvatarURL:   strings.TrimSpace(profile.AvatarURL),
	})
	if err == nil {
		s.logger.Info("provisioned user from provider login", zap.String("user_id", created.ID))
		return created, nil
	}
	if errors.Is(err, ErrDuplicate) {
		// Lost the creation race to a concurrent callback for the same subject.
		return s.store.FindByGoogleID(ctx, subject)
	}
	return User{}, err
}

// Register creates a local password account.
func (s *Service) Register(ctx context.Context, displayName, email, password string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return User{}, errEmptyField
	}

	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return User{}, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return User{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return User{}, err
	}

	created, err := s.store.Create(ctx, User{
		ID:           id,
		DisplayName:  strings.TrimSpace(displayName),
		Email:        email,
		PasswordHash: &hash,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return created, nil
}

// Authenticate verifies a local email/password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if user.PasswordHash == nil {
		// Provider-linked account with no local password.
		return User{}, ErrInvalidCredentials
	}
	if err := auth.ComparePassword(*user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	return user, nil
}

// FindByID returns the account with the given internal identifier.
func (s *Service) FindByID(ctx context.Context, id string) (User, error) {
	if strings.TrimSpace(id) == "" {
		return User{}, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	return s.store.FindByID(ctx, id)
}
