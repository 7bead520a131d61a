package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"vaultdrive/api/internal/store"
)

type memoryStore struct {
	users map[string]store.User
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: make(map[string]store.User)}
}

func (m *memoryStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := m.users[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memoryStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.Email] = user
	return nil
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := NewService(newMemoryStore())
	ctx := context.Background()

	userID, err := svc.Register(ctx, RegisterRequest{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "  Ada@Example.com ",
		Password:  "supersecret",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if userID == "" {
		t.Fatal("expected a user id")
	}

	// Email is normalized at registration, so the original casing works too.
	user, err := svc.Authenticate(ctx, "ada@example.com", "supersecret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if user.ID != userID {
		t.Fatalf("expected user %s, got %s", userID, user.ID)
	}
	if user.PasswordHash == "supersecret" {
		t.Fatal("password must not be stored in plaintext")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := NewService(newMemoryStore())
	ctx := context.Background()

	req := RegisterRequest{FirstName: "Ada", Email: "ada@example.com", Password: "supersecret"}
	if _, err := svc.Register(ctx, req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if _, err := svc.Register(ctx, req); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewService(newMemoryStore())
	ctx := context.Background()

	cases := []struct {
		name string
		req  RegisterRequest
	}{
		{"missing first name", RegisterRequest{Email: "a@b.com", Password: "supersecret"}},
		{"missing email", RegisterRequest{FirstName: "Ada", Password: "supersecret"}},
		{"missing password", RegisterRequest{FirstName: "Ada", Email: "a@b.com"}},
		{"short password", RegisterRequest{FirstName: "Ada", Email: "a@b.com", Password: "short"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tc.req); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	svc := NewService(newMemoryStore())
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterRequest{FirstName: "Ada", Email: "ada@example.com", Password: "supersecret"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "ada@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "supersecret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
}
