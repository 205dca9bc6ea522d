// Package user provides the UserService implementation.
package user

import (
	"context"
	"fmt"

	portal "github.com/academia-portal/portal-go"
)

// Backend defines the contract for pluggable user directory backends.
type Backend interface {
	// GetCurrent returns the currently authenticated user.
	GetCurrent(ctx context.Context) (*portal.RawProfile, error)

	// Get returns a user by ID.
	Get(ctx context.Context, userID string) (*portal.RawProfile, error)

	// List returns users with pagination.
	List(ctx context.Context, opts portal.ListOptions) ([]*portal.RawProfile, error)
}

// Service implements portal.UserService with a configurable backend.
type Service struct {
	backend Backend
}

// compile-time check
var _ portal.UserService = (*Service)(nil)

// New creates a new UserService with the given backend.
func New(backend Backend) *Service {
	return &Service{backend: backend}
}

// GetCurrent returns the currently authenticated user.
func (s *Service) GetCurrent(ctx context.Context) (*portal.RawProfile, error) {
	user, err := s.backend.GetCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("portal/user: %w", err)
	}
	return user, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, userID string) (*portal.RawProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("portal/user: userID cannot be empty")
	}

	user, err := s.backend.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("portal/user: %w", err)
	}
	return user, nil
}

// List returns users with pagination.
func (s *Service) List(ctx context.Context, opts portal.ListOptions) ([]*portal.RawProfile, error) {
	if opts.Page < 0 || opts.PageSize < 0 {
		return nil, fmt.Errorf("portal/user: page and page size must not be negative")
	}
	users, err := s.backend.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("portal/user: %w", err)
	}
	return users, nil
}
