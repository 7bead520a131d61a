package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"vaultdrive/api/internal/access"
	"vaultdrive/api/internal/realtime"
	"vaultdrive/api/internal/store"
	"vaultdrive/api/internal/util"
)

func chatMessageJSON(msg store.ChatMessage) map[string]any {
	return map[string]any{
		"id":       msg.ID,
		"folderId": msg.FolderID,
		"message":  msg.Body,
		"sender": map[string]any{
			"id":        msg.SenderID,
			"firstName": msg.SenderName,
			"email":     msg.SenderEmail,
			"role":      msg.SenderRole,
		},
		"createdAt": msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// chatAccess is the folder-chat rule: owner or collaborator, with a global
// admin override. It is checked on every read, post, and join.
func (s *Service) chatAccess(ctx context.Context, folderID, userID, role string) error {
	if access.IsAdmin(role) {
		return nil
	}
	folder, collaboratorIDs, err := s.loadFolder(ctx, folderID)
	if err != nil {
		return err
	}
	class := access.Classify(folder.OwnerID, collaboratorIDs, userID)
	if !access.CanChat(class, role) {
		return domainError(403, "FORBIDDEN", "Access denied", nil)
	}
	return nil
}

// ChatHistory returns a folder's messages oldest first.
func (s *Service) ChatHistory(ctx context.Context, session Session, folderID string) ([]map[string]any, error) {
	if err := s.chatAccess(ctx, folderID, session.UserID, session.Role); err != nil {
		return nil, err
	}

	messages, err := s.store.ListChatMessages(ctx, folderID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		items = append(items, chatMessageJSON(msg))
	}
	return items, nil
}

// PostChat persists a message through the REST surface. Delivery to live
// connections happens only through the realtime path.
func (s *Service) PostChat(ctx context.Context, session Session, folderID, body string) (map[string]any, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "Message body is required", nil)
	}
	if err := s.chatAccess(ctx, folderID, session.UserID, session.Role); err != nil {
		return nil, err
	}

	msg, err := s.store.InsertChatMessage(ctx, util.NewID("msg"), folderID, session.UserID, body)
	if err != nil {
		return nil, err
	}
	msg.SenderName = session.Name
	msg.SenderEmail = session.Email
	msg.SenderRole = session.Role
	return chatMessageJSON(msg), nil
}

// CanJoinChat authorizes a realtime room subscription. Failures are silent
// on the wire, so this returns a plain bool.
func (s *Service) CanJoinChat(ctx context.Context, folderID, userID, role string) bool {
	return s.chatAccess(ctx, folderID, userID, role) == nil
}

// PostChatMessage persists a realtime message and returns the broadcast
// payload. A nil payload with nil error means the message was dropped: empty
// body or unauthorized sender, both silent no-ops on the wire.
func (s *Service) PostChatMessage(ctx context.Context, folderID string, sender realtime.Identity, body string) (any, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	if err := s.chatAccess(ctx, folderID, sender.UserID, sender.Role); err != nil {
		var derr *DomainError
		if errors.As(err, &derr) {
			return nil, nil
		}
		return nil, err
	}

	msg, err := s.store.InsertChatMessage(ctx, util.NewID("msg"), folderID, sender.UserID, body)
	if err != nil {
		return nil, err
	}

	// Prefer the current profile; the identity verified at handshake is the
	// fallback so the broadcast always carries sender fields.
	profile, err := s.store.GetUserByID(ctx, sender.UserID)
	if err != nil {
		log.Printf("chat: load sender %s: %v", sender.UserID, err)
		msg.SenderName = sender.Name
		msg.SenderEmail = sender.Email
		msg.SenderRole = sender.Role
	} else {
		msg.SenderName = profile.FirstName
		msg.SenderEmail = profile.Email
		msg.SenderRole = profile.Role
	}
	return chatMessageJSON(msg), nil
}
