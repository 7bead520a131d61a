package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"vaultdrive/api/internal/access"
	"vaultdrive/api/internal/realtime"
	"vaultdrive/api/internal/store"
	"vaultdrive/api/internal/util"
)

func folderJSON(folder store.Folder) map[string]any {
	return map[string]any{
		"id":          folder.ID,
		"name":        folder.Name,
		"description": folder.Description,
		"owner":       folder.OwnerID,
		"createdAt":   folder.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// CreateFolder makes the caller the owner of a new folder and notifies their
// other connected sessions.
func (s *Service) CreateFolder(ctx context.Context, session Session, name, description string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "Folder name is required", nil)
	}

	folder := store.Folder{
		ID:          util.NewID("fld"),
		Name:        name,
		Description: strings.TrimSpace(description),
		OwnerID:     session.UserID,
	}
	if err := s.store.CreateFolder(ctx, folder); err != nil {
		return nil, err
	}

	created, err := s.store.GetFolder(ctx, folder.ID)
	if err != nil {
		return nil, err
	}

	payload := folderJSON(created)
	s.notify.Publish(realtime.RoomUser(session.UserID), "folder-created", payload)
	return payload, nil
}

// ListFolders returns every folder the caller owns or collaborates on.
func (s *Service) ListFolders(ctx context.Context, session Session) ([]map[string]any, error) {
	folders, err := s.store.ListFoldersForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(folders))
	for _, folder := range folders {
		items = append(items, folderJSON(folder))
	}
	return items, nil
}

// GetFolder returns one folder with its owner and collaborators projected.
// Only the owner and collaborators may read it.
func (s *Service) GetFolder(ctx context.Context, session Session, folderID string) (map[string]any, error) {
	folder, collaboratorIDs, err := s.loadFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}

	class := access.Classify(folder.OwnerID, collaboratorIDs, session.UserID)
	if !class.IsMember() {
		return nil, domainError(403, "FORBIDDEN", "Access denied", nil)
	}

	owner, err := s.store.GetUserByID(ctx, folder.OwnerID)
	if err != nil {
		return nil, err
	}
	collaborators, err := s.store.ListCollaborators(ctx, folder.ID)
	if err != nil {
		return nil, err
	}

	collabItems := make([]map[string]any, 0, len(collaborators))
	for _, user := range collaborators {
		collabItems = append(collabItems, userSummary(user))
	}

	payload := folderJSON(folder)
	payload["owner"] = userSummary(owner)
	payload["collaborators"] = collabItems
	return payload, nil
}

// Invite records a pending invitation for another user. Owner only; inviting
// the owner, a current collaborator, or an already-invited user conflicts.
func (s *Service) Invite(ctx context.Context, session Session, folderID, targetUserID string) error {
	if folderID == "" || targetUserID == "" {
		return domainError(400, "VALIDATION_ERROR", "folderId and userId are required", nil)
	}

	folder, err := s.getFolder(ctx, folderID)
	if err != nil {
		return err
	}
	if folder.OwnerID != session.UserID {
		return domainError(403, "FORBIDDEN", "Only the folder owner can invite collaborators", nil)
	}

	target, err := s.store.GetUserByID(ctx, targetUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(404, "NOT_FOUND", "User not found", nil)
	}
	if err != nil {
		return err
	}

	if err := s.store.InviteCollaborator(ctx, folder.ID, target.ID); err != nil {
		if errors.Is(err, store.ErrAlreadyInvited) {
			return domainError(409, "CONFLICT", "User is already invited or collaborating", nil)
		}
		return err
	}

	s.notify.Publish(realtime.RoomUser(target.ID), "collaboration-invite", map[string]any{
		"folderId":   folder.ID,
		"folderName": folder.Name,
		"invitedBy": map[string]any{
			"id":        session.UserID,
			"firstName": session.Name,
			"email":     session.Email,
		},
	})
	return nil
}

// AcceptInvite atomically consumes the caller's pending invitation and adds
// them as a collaborator.
func (s *Service) AcceptInvite(ctx context.Context, session Session, folderID string) error {
	if folderID == "" {
		return domainError(400, "VALIDATION_ERROR", "folderId is required", nil)
	}

	folder, err := s.getFolder(ctx, folderID)
	if err != nil {
		return err
	}

	if err := s.store.AcceptInvitation(ctx, folder.ID, session.UserID); err != nil {
		if errors.Is(err, store.ErrNoInvitation) {
			return domainError(400, "NO_INVITATION", "No invitation found for this folder", nil)
		}
		return err
	}

	s.notify.Publish(realtime.RoomUser(folder.OwnerID), "collaboration-accepted", map[string]any{
		"folderId": folder.ID,
		"user": map[string]any{
			"id":        session.UserID,
			"firstName": session.Name,
			"email":     session.Email,
		},
	})
	return nil
}

// ListInvitations returns the folders the caller has pending invitations to,
// with each folder's owner summarized.
func (s *Service) ListInvitations(ctx context.Context, session Session) ([]map[string]any, error) {
	invited, err := s.store.ListInvitedFolders(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(invited))
	for _, folder := range invited {
		items = append(items, map[string]any{
			"id":        folder.ID,
			"name":      folder.Name,
			"owner":     userSummary(folder.Owner),
			"createdAt": folder.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return items, nil
}

// Participants lists the owner plus collaborators of a folder. Members only.
func (s *Service) Participants(ctx context.Context, session Session, folderID string) (map[string]any, error) {
	folder, collaboratorIDs, err := s.loadFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}

	class := access.Classify(folder.OwnerID, collaboratorIDs, session.UserID)
	if !class.IsMember() {
		return nil, domainError(403, "FORBIDDEN", "Access denied", nil)
	}

	owner, err := s.store.GetUserByID(ctx, folder.OwnerID)
	if err != nil {
		return nil, err
	}
	collaborators, err := s.store.ListCollaborators(ctx, folder.ID)
	if err != nil {
		return nil, err
	}

	collabItems := make([]map[string]any, 0, len(collaborators))
	for _, user := range collaborators {
		collabItems = append(collabItems, userSummary(user))
	}

	return map[string]any{
		"owner":             userSummary(owner),
		"collaborators":     collabItems,
		"totalParticipants": 1 + len(collaborators),
	}, nil
}

// LeaveFolder removes the caller from a folder's collaborator set. The owner
// cannot leave; they must delete the folder instead.
func (s *Service) LeaveFolder(ctx context.Context, session Session, folderID string) error {
	folder, err := s.getFolder(ctx, folderID)
	if err != nil {
		return err
	}
	if folder.OwnerID == session.UserID {
		return domainError(400, "OWNER_CANNOT_LEAVE", "The owner cannot leave their own folder", nil)
	}

	removed, err := s.store.RemoveCollaborator(ctx, folder.ID, session.UserID)
	if err != nil {
		return err
	}
	if !removed {
		return domainError(403, "FORBIDDEN", "You are not a collaborator of this folder", nil)
	}

	s.notify.Publish(realtime.RoomFolder(folder.ID), "collaborator-left", map[string]any{
		"folderId": folder.ID,
		"user": map[string]any{
			"id":        session.UserID,
			"firstName": session.Name,
			"email":     session.Email,
		},
	})
	return nil
}

// DeleteFolder removes a folder and everything scoped to it: chat history,
// file metadata, collaborators, and pending invitations in one transaction,
// then the blobs best-effort.
func (s *Service) DeleteFolder(ctx context.Context, session Session, folderID string) error {
	folder, err := s.getFolder(ctx, folderID)
	if err != nil {
		return err
	}
	if folder.OwnerID != session.UserID {
		return domainError(403, "FORBIDDEN", "Only the folder owner can delete it", nil)
	}

	blobIDs, err := s.store.DeleteFolderCascade(ctx, folder.ID)
	if err != nil {
		return err
	}

	// Metadata is authoritative; orphaned blobs are a cleanup concern, not a
	// failure of the delete.
	for _, blobID := range blobIDs {
		if err := s.blobs.Delete(ctx, blobID); err != nil {
			log.Printf("delete folder %s: blob %s not removed: %v", folder.ID, blobID, err)
		}
	}

	s.notify.Publish(realtime.RoomUser(folder.OwnerID), "folder-deleted", map[string]any{
		"folderId": folder.ID,
	})
	return nil
}

func (s *Service) getFolder(ctx context.Context, folderID string) (store.Folder, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Folder{}, domainError(404, "NOT_FOUND", "Folder not found", nil)
	}
	if err != nil {
		return store.Folder{}, err
	}
	return folder, nil
}

func (s *Service) loadFolder(ctx context.Context, folderID string) (store.Folder, []string, error) {
	folder, err := s.getFolder(ctx, folderID)
	if err != nil {
		return store.Folder{}, nil, err
	}
	collaboratorIDs, err := s.store.ListCollaboratorIDs(ctx, folder.ID)
	if err != nil {
		return store.Folder{}, nil, err
	}
	return folder, collaboratorIDs, nil
}
