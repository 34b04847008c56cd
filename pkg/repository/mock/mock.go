// Package mock holds in-memory test doubles for the repository interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/garnizeh/mockprep/pkg/models"
)

// Test helpers and mocks
type Mocks struct {
	Users    *mockUserRepo
	Profiles *mockProfiles
}

func NewMocks() *Mocks {
	return &Mocks{
		Users:    &mockUserRepo{},
		Profiles: &mockProfiles{},
	}
}

type mockUserRepo struct {
	Stored    *models.User
	CreateErr error
}

func (m *mockUserRepo) CreateUser(ctx context.Context, u *models.User) (int64, error) {
	if m.CreateErr != nil {
		return 0, m.CreateErr
	}
	m.Stored = &models.User{ID: 1, Username: u.Username, Email: u.Email, PasswordHash: u.PasswordHash}
	u.ID = 1
	return 1, nil
}

func (m *mockUserRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	if m.Stored != nil && m.Stored.ID == id {
		return m.Stored, nil
	}
	return nil, nil
}

func (m *mockUserRepo) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.Stored != nil && m.Stored.Username == username {
		return m.Stored, nil
	}
	return nil, nil
}

// mockProfiles records which users had a profile initialised.
type mockProfiles struct {
	mu      sync.Mutex
	Inited  []int64
	InitErr error
}

func (m *mockProfiles) InitProfile(ctx context.Context, userID int64) error {
	if m.InitErr != nil {
		return m.InitErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Inited = append(m.Inited, userID)
	return nil
}
