package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"time"

	"vaultdrive/api/internal/access"
	"vaultdrive/api/internal/store"
	"vaultdrive/api/internal/util"
)

func fileJSON(file store.FileMeta) map[string]any {
	payload := map[string]any{
		"id":          file.ID,
		"name":        file.Name,
		"contentType": file.ContentType,
		"size":        file.SizeBytes,
		"uploadedBy":  file.UploaderID,
		"createdAt":   file.CreatedAt.UTC().Format(time.RFC3339),
	}
	if file.FolderID != nil {
		payload["folderId"] = *file.FolderID
	}
	if file.UploaderName != "" || file.UploaderEmail != "" {
		payload["uploadedBy"] = map[string]any{
			"id":        file.UploaderID,
			"firstName": file.UploaderName,
			"email":     file.UploaderEmail,
		}
	}
	return payload
}

// UploadFile stores one file body and its metadata row. A folder-scoped
// upload requires membership of the target folder; without a folderId the
// file is personal to the uploader.
func (s *Service) UploadFile(ctx context.Context, session Session, name, contentType string, size int64, folderID string, body io.Reader) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "File name is required", nil)
	}

	var scopedFolder *string
	if folderID != "" {
		folder, collaboratorIDs, err := s.loadFolder(ctx, folderID)
		if err != nil {
			return nil, err
		}
		class := access.Classify(folder.OwnerID, collaboratorIDs, session.UserID)
		if !class.IsMember() {
			return nil, domainError(403, "FORBIDDEN", "Access denied", nil)
		}
		scopedFolder = &folder.ID
	}

	file := store.FileMeta{
		ID:          util.NewID("fil"),
		Name:        name,
		FolderID:    scopedFolder,
		UploaderID:  session.UserID,
		ContentType: contentType,
		SizeBytes:   size,
	}

	if err := s.blobs.Put(ctx, file.ID, body, size, contentType, session.UserID, folderID); err != nil {
		return nil, mapBlobError(err)
	}
	if err := s.store.InsertFile(ctx, file); err != nil {
		// Roll the blob back so the bucket does not accumulate rows without
		// metadata.
		_ = s.blobs.Delete(ctx, file.ID)
		return nil, err
	}

	stored, err := s.store.GetFile(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	return fileJSON(stored), nil
}

// ListMyFiles returns every file the caller uploaded, folder-scoped or not.
func (s *Service) ListMyFiles(ctx context.Context, session Session) ([]map[string]any, error) {
	files, err := s.store.ListFilesByUploader(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(files))
	for _, file := range files {
		items = append(items, fileJSON(file))
	}
	return items, nil
}

// ListFolderFiles returns a folder's files. Members only.
func (s *Service) ListFolderFiles(ctx context.Context, session Session, folderID string) ([]map[string]any, error) {
	folder, collaboratorIDs, err := s.loadFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	class := access.Classify(folder.OwnerID, collaboratorIDs, session.UserID)
	if !class.IsMember() {
		return nil, domainError(403, "FORBIDDEN", "Access denied", nil)
	}

	files, err := s.store.ListFilesByFolder(ctx, folder.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(files))
	for _, file := range files {
		items = append(items, fileJSON(file))
	}
	return items, nil
}

// DownloadFile streams a file body. The uploader can always download their
// own file; a folder-scoped file is also readable by the folder's members.
func (s *Service) DownloadFile(ctx context.Context, session Session, fileID string) (store.FileMeta, io.ReadCloser, error) {
	file, err := s.getFile(ctx, fileID)
	if err != nil {
		return store.FileMeta{}, nil, err
	}
	if err := s.authorizeFileAccess(ctx, session, file); err != nil {
		return store.FileMeta{}, nil, err
	}

	body, err := s.blobs.Get(ctx, file.ID)
	if err != nil {
		return store.FileMeta{}, nil, mapBlobError(err)
	}
	return file, body, nil
}

// RenameFile changes a file's display name. Same access rule as download,
// except an unscoped file can only be renamed by its uploader.
func (s *Service) RenameFile(ctx context.Context, session Session, fileID, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(400, "VALIDATION_ERROR", "File name is required", nil)
	}

	file, err := s.getFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeFileAccess(ctx, session, file); err != nil {
		return nil, err
	}

	if _, err := s.store.RenameFile(ctx, file.ID, name); err != nil {
		return nil, err
	}
	renamed, err := s.store.GetFile(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	return fileJSON(renamed), nil
}

// DeleteFile removes the metadata row and then the blob best-effort.
func (s *Service) DeleteFile(ctx context.Context, session Session, fileID string) error {
	file, err := s.getFile(ctx, fileID)
	if err != nil {
		return err
	}
	if err := s.authorizeFileAccess(ctx, session, file); err != nil {
		return err
	}

	if _, err := s.store.DeleteFile(ctx, file.ID); err != nil {
		return err
	}
	_ = s.blobs.Delete(ctx, file.ID)
	return nil
}

// authorizeFileAccess is the shared rule for download, rename, and delete:
// the uploader always qualifies; for folder-scoped files so does any member
// of the folder.
func (s *Service) authorizeFileAccess(ctx context.Context, session Session, file store.FileMeta) error {
	if file.UploaderID == session.UserID {
		return nil
	}
	if file.FolderID == nil {
		return domainError(403, "FORBIDDEN", "Access denied", nil)
	}

	folder, collaboratorIDs, err := s.loadFolder(ctx, *file.FolderID)
	if err != nil {
		return err
	}
	class := access.Classify(folder.OwnerID, collaboratorIDs, session.UserID)
	if !class.IsMember() {
		return domainError(403, "FORBIDDEN", "Access denied", nil)
	}
	return nil
}

func (s *Service) getFile(ctx context.Context, fileID string) (store.FileMeta, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.FileMeta{}, domainError(404, "NOT_FOUND", "File not found", nil)
	}
	if err != nil {
		return store.FileMeta{}, err
	}
	return file, nil
}
