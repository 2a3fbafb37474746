package auth_test

import (
	"context"

	auth "github.com/goliatone/go-authcore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockPrincipalFinder struct {
	mock.Mock
}

func (m *MockPrincipalFinder) FindLive(ctx context.Context, identifier, tenantID string, limit int) ([]*auth.Principal, error) {
	args := m.Called(ctx, identifier, tenantID, limit)
	if v := args.Get(0); v != nil {
		return v.([]*auth.Principal), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockPrincipalLookup struct {
	mock.Mock
}

func (m *MockPrincipalLookup) GetWithDeleted(ctx context.Context, id uuid.UUID) (*auth.Principal, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*auth.Principal), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockPasswordAuthenticator struct {
	mock.Mock
}

func (m *MockPasswordAuthenticator) HashPassword(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordAuthenticator) ComparePasswordAndHash(password, hash string) error {
	args := m.Called(password, hash)
	return args.Error(0)
}
