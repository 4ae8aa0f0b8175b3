package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func newTestService(repo *fakeRepository, tokens *fakeTokenStore) *Service {
	return NewService(repo, tokens, "test-secret-at-least-16")
}

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	tokens := newFakeTokenStore()
	svc := newTestService(repo, tokens)

	req := RegisterRequest{
		Email:       "Alice@Example.com",
		Password:    "supersafe",
		FullName:    "Alice Filer",
		FilingState: "ca",
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %q", user.Email)
	}
	if user.FilingState != "CA" {
		t.Fatalf("expected uppercased filing state, got %q", user.FilingState)
	}

	result, err := svc.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "supersafe"})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if result.Tokens.AccessToken == "" {
		t.Fatal("login: expected access token")
	}
	if result.Tokens.RefreshToken == "" {
		t.Fatal("login: expected refresh token")
	}
	if result.User.ID != user.ID {
		t.Fatalf("login: expected user id %q got %q", user.ID, result.User.ID)
	}

	tokenUserID, err := svc.VerifyToken(result.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if tokenUserID != user.ID {
		t.Fatalf("verify token: expected %q got %q", user.ID, tokenUserID)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc := newTestService(newFakeRepository(), newFakeTokenStore())

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "alice@example.com",
		Password: "short",
		FullName: "Alice Filer",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Password: "strongpassword",
	}); err == nil {
		t.Fatal("expected validation error for missing fields")
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	svc := newTestService(newFakeRepository(), newFakeTokenStore())

	req := RegisterRequest{
		Email:    "alice@example.com",
		Password: "strongpassword",
		FullName: "Alice Filer",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, newFakeTokenStore())

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@example.com",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "alice@example.com",
		Password: "strongpassword",
		FullName: "Alice Filer",
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	_, err = svc.Login(context.Background(), LoginRequest{
		Email:    "alice@example.com",
		Password: "wrongpassword",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
}

func TestService_RefreshRotatesToken(t *testing.T) {
	repo := newFakeRepository()
	tokens := newFakeTokenStore()
	svc := newTestService(repo, tokens)

	ctx := context.Background()
	user, err := svc.Register(ctx, RegisterRequest{
		Email:    "alice@example.com",
		Password: "strongpassword",
		FullName: "Alice Filer",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result, err := svc.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "strongpassword"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	rotated, err := svc.Refresh(ctx, user.ID, result.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if rotated.RefreshToken == result.Tokens.RefreshToken {
		t.Fatal("expected refresh to rotate the stored token")
	}

	// The original token is now revoked.
	if _, err := svc.Refresh(ctx, user.ID, result.Tokens.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken after rotation, got %v", err)
	}
}

func TestService_RefreshUnknownUser(t *testing.T) {
	svc := newTestService(newFakeRepository(), newFakeTokenStore())

	if _, err := svc.Refresh(context.Background(), "ghost", "whatever"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
}

func TestService_LogoutRevokesRefreshToken(t *testing.T) {
	repo := newFakeRepository()
	tokens := newFakeTokenStore()
	svc := newTestService(repo, tokens)

	ctx := context.Background()
	user, err := svc.Register(ctx, RegisterRequest{
		Email:    "alice@example.com",
		Password: "strongpassword",
		FullName: "Alice Filer",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result, err := svc.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "strongpassword"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := svc.Logout(ctx, user.ID); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	if _, err := svc.Refresh(ctx, user.ID, result.Tokens.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken after logout, got %v", err)
	}
}

func TestService_VerifyTokenRejectsWrongSecret(t *testing.T) {
	repo := newFakeRepository()
	tokens := newFakeTokenStore()
	svc := newTestService(repo, tokens)

	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterRequest{
		Email:    "alice@example.com",
		Password: "strongpassword",
		FullName: "Alice Filer",
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	result, err := svc.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "strongpassword"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	other := NewService(repo, tokens, "a-different-secret-16")
	if _, err := other.VerifyToken(result.Tokens.AccessToken); err == nil {
		t.Fatal("expected verification to fail under a different secret")
	}
}

type fakeRepository struct {
	usersByEmail map[string]User
	usersByID    map[string]User
	nextID       int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		usersByEmail: make(map[string]User),
		usersByID:    make(map[string]User),
		nextID:       1,
	}
}

func (f *fakeRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if _, exists := f.usersByEmail[strings.ToLower(params.Email)]; exists {
		return User{}, ErrDuplicateEmail
	}

	id := fmt.Sprintf("user-%d", f.nextID)
	f.nextID++

	user := User{
		ID:           id,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		FilingState:  params.FilingState,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	f.usersByEmail[strings.ToLower(user.Email)] = user
	f.usersByID[user.ID] = user

	return user, nil
}

func (f *fakeRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, ok := f.usersByEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

type fakeTokenStore struct {
	tokens map[string]string
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]string)}
}

func (f *fakeTokenStore) Save(ctx context.Context, userID, token string, ttl time.Duration) error {
	f.tokens[userID] = token
	return nil
}

func (f *fakeTokenStore) Get(ctx context.Context, userID string) (string, error) {
	token, ok := f.tokens[userID]
	if !ok {
		return "", ErrRefreshNotFound
	}
	return token, nil
}

func (f *fakeTokenStore) Delete(ctx context.Context, userID string) error {
	delete(f.tokens, userID)
	return nil
}
