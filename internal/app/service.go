package app

import (
	"context"
	"time"

	"vaultdrive/api/internal/auth"
	"vaultdrive/api/internal/authpw"
	"vaultdrive/api/internal/blob"
	"vaultdrive/api/internal/config"
	"vaultdrive/api/internal/store"
	"vaultdrive/api/internal/util"
)

// Session is the authenticated context constructed once per request or
// connection and passed by value into every handler.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Name         string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	// users
	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)

	// refresh sessions and token revocation
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	// folders
	CreateFolder(ctx context.Context, folder store.Folder) error
	GetFolder(ctx context.Context, folderID string) (store.Folder, error)
	ListCollaboratorIDs(ctx context.Context, folderID string) ([]string, error)
	ListCollaborators(ctx context.Context, folderID string) ([]store.User, error)
	InviteCollaborator(ctx context.Context, folderID, targetID string) error
	AcceptInvitation(ctx context.Context, folderID, userID string) error
	RemoveCollaborator(ctx context.Context, folderID, userID string) (bool, error)
	ListFoldersForUser(ctx context.Context, userID string) ([]store.Folder, error)
	ListInvitedFolders(ctx context.Context, userID string) ([]store.InvitedFolder, error)
	DeleteFolderCascade(ctx context.Context, folderID string) ([]string, error)

	// files
	InsertFile(ctx context.Context, file store.FileMeta) error
	GetFile(ctx context.Context, fileID string) (store.FileMeta, error)
	ListFilesByFolder(ctx context.Context, folderID string) ([]store.FileMeta, error)
	ListFilesByUploader(ctx context.Context, userID string) ([]store.FileMeta, error)
	RenameFile(ctx context.Context, fileID, name string) (bool, error)
	DeleteFile(ctx context.Context, fileID string) (bool, error)

	// chat
	InsertChatMessage(ctx context.Context, id, folderID, senderID, body string) (store.ChatMessage, error)
	ListChatMessages(ctx context.Context, folderID string) ([]store.ChatMessage, error)

	Ping(ctx context.Context) error
}

// sessionStore is the refresh-token backend. The data store satisfies it;
// Redis replaces it when configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// Notifier is the publish side of the realtime fan-out. The service depends
// only on this interface, not on a transport.
type Notifier interface {
	Publish(room, eventType string, payload any)
}

type noopNotifier struct{}

func (noopNotifier) Publish(string, string, any) {}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	creds    *authpw.Service
	blobs    blob.Store
	notify   Notifier
}

func New(cfg config.Config, dataStore *store.PostgresStore, blobs blob.Store, notify Notifier) *Service {
	return newService(cfg, dataStore, dataStore, blobs, notify)
}

// NewWithSessionStore keeps refresh tokens in a dedicated backend (Redis)
// instead of Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, blobs blob.Store, notify Notifier) *Service {
	return newService(cfg, dataStore, sessions, blobs, notify)
}

func newService(cfg config.Config, data dataStore, sessions sessionStore, blobs blob.Store, notify Notifier) *Service {
	if blobs == nil {
		blobs = blob.NotReadyStore{}
	}
	if notify == nil {
		notify = noopNotifier{}
	}
	return &Service{
		cfg:      cfg,
		store:    data,
		sessions: sessions,
		creds:    authpw.NewService(data),
		blobs:    blobs,
		notify:   notify,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Register creates a user account.
func (s *Service) Register(ctx context.Context, firstName, lastName, email, password string) (string, error) {
	userID, err := s.creds.Register(ctx, authpw.RegisterRequest{
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Password:  password,
	})
	if err == authpw.ErrEmailTaken {
		return "", domainError(409, "EMAIL_EXISTS", "Email already registered", nil)
	}
	if err != nil {
		return "", domainError(400, "VALIDATION_ERROR", err.Error(), nil)
	}
	return userID, nil
}

// Login verifies credentials and issues an access/refresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.creds.Authenticate(ctx, email, password)
	if err != nil {
		return Session{}, domainError(401, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	stub, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The session backend may only persist the user id; refetch the profile.
	user, err := s.store.GetUserByID(ctx, stub.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.FirstName,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Name:         user.FirstName,
		Email:        user.Email,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates an access token and reloads the user so role
// changes and deletions take effect before expiry.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Name:      user.FirstName,
		Email:     user.Email,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ListUsers returns user summaries for the collaborator invite picker.
func (s *Service) ListUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, map[string]any{
			"id":        user.ID,
			"firstName": user.FirstName,
			"lastName":  user.LastName,
			"email":     user.Email,
		})
	}
	return items, nil
}

func userSummary(user store.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"firstName": user.FirstName,
		"lastName":  user.LastName,
		"email":     user.Email,
	}
}
