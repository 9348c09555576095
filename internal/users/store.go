package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const defaultRetryBackoff = 150 * time.Millisecond

var (
	// ErrNotFound indicates no user row matched the lookup.
	ErrNotFound = errors.New("users: not found")
	// ErrDuplicate indicates a uniqueness constraint rejected the write.
	ErrDuplicate = errors.New("users: duplicate")
	// ErrStoreUnavailable indicates the store could not be reached, after the
	// adapter's single retry.
	ErrStoreUnavailable = errors.New("users: store unavailable")

	errMissingDatabase = errors.New("users: database handle is required")
)

// Store is the narrow lookup/insert contract the reconciler and handlers
// consume. Implementations must be safe for concurrent use and must surface
// constraint violations distinctly from connectivity failures.
type Store interface {
	FindByGoogleID(ctx context.Context, googleID string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, user User) (User, error)
}

// SQLStoreConfig configures the gorm-backed store adapter.
type SQLStoreConfig struct {
	Database     *gorm.DB
	RetryBackoff time.Duration
}

// SQLStore implements Store over a relational table. Transient failures are
// retried once after a short backoff before being surfaced as
// ErrStoreUnavailable.
type SQLStore struct {
	db      *gorm.DB
	backoff time.Duration
}

// NewSQLStore constructs the store adapter.
func NewSQLStore(cfg SQLStoreConfig) (*SQLStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	return &SQLStore{db: cfg.Database, backoff: backoff}, nil
}

// FindByGoogleID returns the user linked to the provider subject identifier.
func (s *SQLStore) FindByGoogleID(ctx context.Context, googleID string) (User, error) {
	return s.findOne(ctx, "google_id = ?", googleID)
}

// FindByID returns the user with the given internal identifier.
func (s *SQLStore) FindByID(ctx context.Context, id string) (User, error) {
	return s.findOne(ctx, "id = ?", id)
}

// FindByEmail returns the first user holding the given email address.
func (s *SQLStore) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.findOne(ctx, "email = ?", email)
}

// Create inserts a new user row. A uniqueness violation surfaces as
// ErrDuplicate so callers can recover from concurrent creation races.
func (s *SQLStore) Create(ctx context.Context, user User) (User, error) {
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Create(&user).Error
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *SQLStore) findOne(ctx context.Context, query string, arg interface{}) (User, error) {
	var user User
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Where(query, arg).First(&user).Error
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// withRetry executes op, retrying once after a backoff when the failure looks
// transient. Not-found and constraint violations are terminal.
func (s *SQLStore) withRetry(ctx context.Context, op func() error) error {
	err := classify(op())
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, ctx.Err())
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, ctx.Err())
	case <-time.After(s.backoff):
	}

	retryErr := classify(op())
	if retryErr == nil || errors.Is(retryErr, ErrNotFound) || errors.Is(retryErr, ErrDuplicate) {
		return retryErr
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, retryErr)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// isUniqueViolation covers drivers that do not translate constraint errors
// into gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") ||
		strings.Contains(message, "constraint failed: unique")
}
