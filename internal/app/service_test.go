package app

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"sync"
	"testing"
	"time"

	"vaultdrive/api/internal/config"
	"vaultdrive/api/internal/store"
)

type fakeStore struct {
	createUserFn          func(context.Context, store.User) error
	getUserByEmailFn      func(context.Context, string) (store.User, error)
	getUserByIDFn         func(context.Context, string) (store.User, error)
	listUsersFn           func(context.Context) ([]store.User, error)
	createFolderFn        func(context.Context, store.Folder) error
	getFolderFn           func(context.Context, string) (store.Folder, error)
	listCollaboratorIDsFn func(context.Context, string) ([]string, error)
	listCollaboratorsFn   func(context.Context, string) ([]store.User, error)
	inviteCollaboratorFn  func(context.Context, string, string) error
	acceptInvitationFn    func(context.Context, string, string) error
	removeCollaboratorFn  func(context.Context, string, string) (bool, error)
	listFoldersForUserFn  func(context.Context, string) ([]store.Folder, error)
	listInvitedFoldersFn  func(context.Context, string) ([]store.InvitedFolder, error)
	deleteFolderFn        func(context.Context, string) ([]string, error)
	insertFileFn          func(context.Context, store.FileMeta) error
	getFileFn             func(context.Context, string) (store.FileMeta, error)
	listFilesByFolderFn   func(context.Context, string) ([]store.FileMeta, error)
	listFilesByUploaderFn func(context.Context, string) ([]store.FileMeta, error)
	renameFileFn          func(context.Context, string, string) (bool, error)
	deleteFileFn          func(context.Context, string) (bool, error)
	insertChatMessageFn   func(context.Context, string, string, string, string) (store.ChatMessage, error)
	listChatMessagesFn    func(context.Context, string) ([]store.ChatMessage, error)
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) ListUsers(ctx context.Context) ([]store.User, error) {
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) SaveRefreshSession(context.Context, string, string, time.Time) error { return nil }
func (f *fakeStore) LookupRefreshSession(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error         { return nil }
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) { return false, nil }
func (f *fakeStore) CreateFolder(ctx context.Context, folder store.Folder) error {
	if f.createFolderFn != nil {
		return f.createFolderFn(ctx, folder)
	}
	return nil
}
func (f *fakeStore) GetFolder(ctx context.Context, folderID string) (store.Folder, error) {
	if f.getFolderFn != nil {
		return f.getFolderFn(ctx, folderID)
	}
	return store.Folder{}, sql.ErrNoRows
}
func (f *fakeStore) ListCollaboratorIDs(ctx context.Context, folderID string) ([]string, error) {
	if f.listCollaboratorIDsFn != nil {
		return f.listCollaboratorIDsFn(ctx, folderID)
	}
	return nil, nil
}
func (f *fakeStore) ListCollaborators(ctx context.Context, folderID string) ([]store.User, error) {
	if f.listCollaboratorsFn != nil {
		return f.listCollaboratorsFn(ctx, folderID)
	}
	return nil, nil
}
func (f *fakeStore) InviteCollaborator(ctx context.Context, folderID, targetID string) error {
	if f.inviteCollaboratorFn != nil {
		return f.inviteCollaboratorFn(ctx, folderID, targetID)
	}
	return nil
}
func (f *fakeStore) AcceptInvitation(ctx context.Context, folderID, userID string) error {
	if f.acceptInvitationFn != nil {
		return f.acceptInvitationFn(ctx, folderID, userID)
	}
	return nil
}
func (f *fakeStore) RemoveCollaborator(ctx context.Context, folderID, userID string) (bool, error) {
	if f.removeCollaboratorFn != nil {
		return f.removeCollaboratorFn(ctx, folderID, userID)
	}
	return false, nil
}
func (f *fakeStore) ListFoldersForUser(ctx context.Context, userID string) ([]store.Folder, error) {
	if f.listFoldersForUserFn != nil {
		return f.listFoldersForUserFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) ListInvitedFolders(ctx context.Context, userID string) ([]store.InvitedFolder, error) {
	if f.listInvitedFoldersFn != nil {
		return f.listInvitedFoldersFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) DeleteFolderCascade(ctx context.Context, folderID string) ([]string, error) {
	if f.deleteFolderFn != nil {
		return f.deleteFolderFn(ctx, folderID)
	}
	return nil, nil
}
func (f *fakeStore) InsertFile(ctx context.Context, file store.FileMeta) error {
	if f.insertFileFn != nil {
		return f.insertFileFn(ctx, file)
	}
	return nil
}
func (f *fakeStore) GetFile(ctx context.Context, fileID string) (store.FileMeta, error) {
	if f.getFileFn != nil {
		return f.getFileFn(ctx, fileID)
	}
	return store.FileMeta{}, sql.ErrNoRows
}
func (f *fakeStore) ListFilesByFolder(ctx context.Context, folderID string) ([]store.FileMeta, error) {
	if f.listFilesByFolderFn != nil {
		return f.listFilesByFolderFn(ctx, folderID)
	}
	return nil, nil
}
func (f *fakeStore) ListFilesByUploader(ctx context.Context, userID string) ([]store.FileMeta, error) {
	if f.listFilesByUploaderFn != nil {
		return f.listFilesByUploaderFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) RenameFile(ctx context.Context, fileID, name string) (bool, error) {
	if f.renameFileFn != nil {
		return f.renameFileFn(ctx, fileID, name)
	}
	return false, nil
}
func (f *fakeStore) DeleteFile(ctx context.Context, fileID string) (bool, error) {
	if f.deleteFileFn != nil {
		return f.deleteFileFn(ctx, fileID)
	}
	return false, nil
}
func (f *fakeStore) InsertChatMessage(ctx context.Context, id, folderID, senderID, body string) (store.ChatMessage, error) {
	if f.insertChatMessageFn != nil {
		return f.insertChatMessageFn(ctx, id, folderID, senderID, body)
	}
	return store.ChatMessage{ID: id, FolderID: folderID, SenderID: senderID, Body: body}, nil
}
func (f *fakeStore) ListChatMessages(ctx context.Context, folderID string) ([]store.ChatMessage, error) {
	if f.listChatMessagesFn != nil {
		return f.listChatMessagesFn(ctx, folderID)
	}
	return nil, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type publishedEvent struct {
	Room    string
	Type    string
	Payload any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (n *fakeNotifier) Publish(room, eventType string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{Room: room, Type: eventType, Payload: payload})
}

func (n *fakeNotifier) byType(eventType string) []publishedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []publishedEvent
	for _, event := range n.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type fakeBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (b *fakeBlob) Put(_ context.Context, id string, body io.Reader, _ int64, _, _, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[id] = data
	return nil
}

func (b *fakeBlob) Get(_ context.Context, id string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBlob) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, id)
	b.deleted = append(b.deleted, id)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}
}

func newTestService(fs *fakeStore, notify Notifier) *Service {
	return newService(testConfig(), fs, fs, newFakeBlob(), notify)
}

func memberSession(userID string) Session {
	return Session{UserID: userID, Name: "Test", Email: userID + "@example.com", Role: "member"}
}

func domainStatus(t *testing.T, err error) int {
	t.Helper()
	derr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected *DomainError, got %T: %v", err, err)
	}
	return derr.Status
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]string)}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[tokenHash] = userID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.sessions[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, tokenHash)
	return nil
}

func TestRefreshRotatesToken(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, FirstName: "Ada", Email: "ada@example.com", Role: "member"}, nil
		},
	}
	sessions := newFakeSessions()
	svc := newService(testConfig(), fs, sessions, newFakeBlob(), nil)
	ctx := context.Background()

	first, err := svc.issueSession(ctx, store.User{ID: "usr_a", FirstName: "Ada", Role: "member"})
	if err != nil {
		t.Fatalf("issueSession failed: %v", err)
	}

	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh must rotate the refresh token")
	}

	// The presented token is consumed by rotation.
	if _, err := svc.Refresh(ctx, first.RefreshToken); err == nil {
		t.Fatal("expected the old refresh token to be revoked")
	}
}

func TestCreateFolderRequiresName(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil)

	_, err := svc.CreateFolder(context.Background(), memberSession("usr_a"), "   ", "")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if status := domainStatus(t, err); status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestCreateFolderNotifiesOwner(t *testing.T) {
	folder := store.Folder{}
	fs := &fakeStore{
		createFolderFn: func(_ context.Context, f store.Folder) error {
			folder = f
			return nil
		},
		getFolderFn: func(_ context.Context, folderID string) (store.Folder, error) {
			if folderID == folder.ID {
				return folder, nil
			}
			return store.Folder{}, sql.ErrNoRows
		},
	}
	notify := &fakeNotifier{}
	svc := newTestService(fs, notify)

	payload, err := svc.CreateFolder(context.Background(), memberSession("usr_a"), "Research", "shared papers")
	if err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	if payload["name"] != "Research" {
		t.Fatalf("expected folder name in payload, got %v", payload["name"])
	}

	events := notify.byType("folder-created")
	if len(events) != 1 {
		t.Fatalf("expected one folder-created event, got %d", len(events))
	}
	if events[0].Room != "user:usr_a" {
		t.Fatalf("expected event on owner channel, got %s", events[0].Room)
	}
}

func TestGetFolderDeniedForNonMember(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(context.Context, string) (store.Folder, error) {
			return store.Folder{ID: "fld_1", OwnerID: "usr_owner"}, nil
		},
		listCollaboratorIDsFn: func(context.Context, string) ([]string, error) {
			return []string{"usr_collab"}, nil
		},
	}
	svc := newTestService(fs, nil)

	_, err := svc.GetFolder(context.Background(), memberSession("usr_stranger"), "fld_1")
	if err == nil {
		t.Fatal("expected access denied")
	}
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestGetFolderMissing(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil)

	_, err := svc.GetFolder(context.Background(), memberSession("usr_a"), "fld_missing")
	if status := domainStatus(t, err); status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestInviteRequiresOwner(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(context.Context, string) (store.Folder, error) {
			return store.Folder{ID: "fld_1", OwnerID: "usr_owner"}, nil
		},
	}
	svc := newTestService(fs, nil)

	err := svc.Invite(context.Background(), memberSession("usr_collab"), "fld_1", "usr_new")
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestInviteConflictLeavesStateUnchanged(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(context.Context, string) (store.Folder, error) {
			return store.Folder{ID: "fld_1", OwnerID: "usr_owner"}, nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, FirstName: "Collab", Role: "member"}, nil
		},
		inviteCollaboratorFn: func(context.Context, string, string) error {
			return store.ErrAlreadyInvited
		},
	}
	notify := &fakeNotifier{}
	svc := newTestService(fs, notify)

	err := svc.Invite(context.Background(), memberSession("usr_owner"), "fld_1", "usr_collab")
	if status := domainStatus(t, err); status != 409 {
		t.Fatalf("expected 409, got %d", status)
	}
	if len(notify.byType("collaboration-invite")) != 0 {
		t.Fatal("conflicting invite must not publish an event")
	}
}

func TestInviteNotifiesTarget(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(context.Context, string) (store.Folder, error) {
			return store.Folder{ID: "fld_1", Name: "Research", OwnerID: "usr_owner"}, nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, FirstName: "Collab", Role: "member"}, nil
		},
	}
	notify := &fakeNotifier{}
	svc := newTestService(fs, notify)

	if err := svc.Invite(context.Background(), memberSession("usr_owner"), "fld_1", "usr_new"); err != nil {
		t.Fatalf("Invite failed: %v", err)
	}

	events := notify.byType("collaboration-invite")
	if len(events) != 1 {
		t.Fatalf("expected one invite event, got %d", len(events))
	}
	if events[0].Room != "user:usr_new" {
		t.Fatalf("invite event must target the invitee channel, got %s", events[0].Room)
	}
}

func TestAcceptInviteWithoutInvitation(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(context.Context, string) (store.Folder, error) {
			return store.Folder{ID: "fld_1", OwnerID: "usr_owner"}, nil
		},
		acceptInvitationFn: func(context.Context, string, string) error {
			return store.ErrNoInvitation
		},
	}
	svc := newTestService(fs, nil)

	err := svc.AcceptInvite(context.Background(), memberSession("usr_b"), "fld_1")
	if status := domainStatus(t, err); status != 400 {
		t.Fatalf("expected 400, got %d", status)
	}
}

func TestAcceptInviteNotifiesOwner(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(context.Context, string) (store.Folder, error) {
			return store.Folder{ID: "fld_1", OwnerID: "usr_owner"}, nil
		},
	}
	notify := &fakeNotifier{}
	svc := newTestService(fs, notify)

	if err := svc.AcceptInvite(context.Background(), memberSession("usr_b"), "fld_1"); err != nil {
		t.Fatalf("AcceptInvite failed: %v", err)
	}

	events := notify.byType("collaboration-accepted")
	if len(events) != 1 || events[0].Room != "user:usr_owner" {
		t.Fatalf("expected accepted event on owner channel, got %+v", events)
	}
}

func TestLeaveFolderOwnerRejected(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(context.Context, string) (store.Folder, error) {
			return store.Folder{ID: "fld_1", OwnerID: "usr_owner"}, nil
		},
	}
	svc := newTestService(fs, nil)

	err := svc.LeaveFolder(context.Background(), memberSession("usr_owner"), "fld_1")
	if status := domainStatus(t, err); status != 400 {
		t.Fatalf("expected 400 for owner leave, got %d", status)
	}
}

func TestLeaveFolderNonCollaborator(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(context.Context, string) (store.Folder, error) {
			return store.Folder{ID: "fld_1", OwnerID: "usr_owner"}, nil
		},
		removeCollaboratorFn: func(context.Context, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs, nil)

	err := svc.LeaveFolder(context.Background(), memberSession("usr_stranger"), "fld_1")
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403 for non-collaborator, got %d", status)
	}
}

func TestLeaveFolderNotifiesRoom(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(context.Context, string) (store.Folder, error) {
			return store.Folder{ID: "fld_1", OwnerID: "usr_owner"}, nil
		},
		removeCollaboratorFn: func(context.Context, string, string) (bool, error) {
			return true, nil
		},
	}
	notify := &fakeNotifier{}
	svc := newTestService(fs, notify)

	if err := svc.LeaveFolder(context.Background(), memberSession("usr_b"), "fld_1"); err != nil {
		t.Fatalf("LeaveFolder failed: %v", err)
	}

	events := notify.byType("collaborator-left")
	if len(events) != 1 || events[0].Room != "folder:fld_1" {
		t.Fatalf("expected collaborator-left on folder room, got %+v", events)
	}
}

func TestParticipantsCount(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(context.Context, string) (store.Folder, error) {
			return store.Folder{ID: "fld_1", OwnerID: "usr_owner"}, nil
		},
		listCollaboratorIDsFn: func(context.Context, string) ([]string, error) {
			return []string{"usr_b", "usr_c"}, nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, FirstName: "Owner"}, nil
		},
		listCollaboratorsFn: func(context.Context, string) ([]store.User, error) {
			return []store.User{{ID: "usr_b"}, {ID: "usr_c"}}, nil
		},
	}
	svc := newTestService(fs, nil)

	payload, err := svc.Participants(context.Background(), memberSession("usr_b"), "fld_1")
	if err != nil {
		t.Fatalf("Participants failed: %v", err)
	}
	if payload["totalParticipants"] != 3 {
		t.Fatalf("expected 3 participants, got %v", payload["totalParticipants"])
	}
}

func TestDeleteFolderRemovesBlobsAndNotifies(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(context.Context, string) (store.Folder, error) {
			return store.Folder{ID: "fld_1", OwnerID: "usr_owner"}, nil
		},
		deleteFolderFn: func(context.Context, string) ([]string, error) {
			return []string{"fil_1", "fil_2"}, nil
		},
	}
	notify := &fakeNotifier{}
	blobs := newFakeBlob()
	svc := newService(testConfig(), fs, fs, blobs, notify)

	if err := svc.DeleteFolder(context.Background(), memberSession("usr_owner"), "fld_1"); err != nil {
		t.Fatalf("DeleteFolder failed: %v", err)
	}

	if len(blobs.deleted) != 2 {
		t.Fatalf("expected 2 blob deletes, got %d", len(blobs.deleted))
	}
	events := notify.byType("folder-deleted")
	if len(events) != 1 || events[0].Room != "user:usr_owner" {
		t.Fatalf("expected folder-deleted on owner channel, got %+v", events)
	}
}

func TestDeleteFolderNonOwner(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(context.Context, string) (store.Folder, error) {
			return store.Folder{ID: "fld_1", OwnerID: "usr_owner"}, nil
		},
	}
	svc := newTestService(fs, nil)

	err := svc.DeleteFolder(context.Background(), memberSession("usr_collab"), "fld_1")
	if status := domainStatus(t, err); status != 403 {
		t.Fatalf("expected 403, got %d", status)
	}
}
