package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyInvited covers every duplicate-invite case: the target is
	// already a collaborator, already has a pending invitation, or is the
	// owner. The collaborator and invitation sets stay disjoint and never
	// contain the owner.
	ErrAlreadyInvited = errors.New("user already invited")
	ErrNoInvitation   = errors.New("no invitation found")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, first_name, last_name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.FirstName, user.LastName, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, password_hash, role, created_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, password_hash, role, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, email, role, created_at
		FROM users
		ORDER BY first_name ASC, last_name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.Role, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

// ---- refresh sessions / token revocation ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.first_name, u.last_name, u.email, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- folders ----

func (s *PostgresStore) CreateFolder(ctx context.Context, folder Folder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (id, name, description, owner_id)
		VALUES ($1, $2, $3, $4)
	`, folder.ID, folder.Name, folder.Description, folder.OwnerID)
	if err != nil {
		return fmt.Errorf("create folder: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, folderID string) (Folder, error) {
	var folder Folder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, owner_id, created_at
		FROM folders
		WHERE id=$1
	`, folderID).Scan(&folder.ID, &folder.Name, &folder.Description, &folder.OwnerID, &folder.CreatedAt)
	if err != nil {
		return Folder{}, err
	}
	return folder, nil
}

func (s *PostgresStore) ListCollaboratorIDs(ctx context.Context, folderID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM folder_collaborators WHERE folder_id=$1
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list collaborator ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan collaborator id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborator ids: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) ListCollaborators(ctx context.Context, folderID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.first_name, u.last_name, u.email, u.role, u.created_at
		FROM folder_collaborators fc
		JOIN users u ON u.id = fc.user_id
		WHERE fc.folder_id=$1
		ORDER BY fc.added_at ASC
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.Role, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return items, nil
}

// InviteCollaborator adds a pending invitation. The folder row is locked so
// concurrent invite/accept on the same folder serialize; the disjointness
// checks and the insert happen under that lock.
func (s *PostgresStore) InviteCollaborator(ctx context.Context, folderID, targetID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin invite tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ownerID string
	if err := tx.QueryRowContext(ctx, `SELECT owner_id FROM folders WHERE id=$1 FOR UPDATE`, folderID).Scan(&ownerID); err != nil {
		return err
	}
	if ownerID == targetID {
		return ErrAlreadyInvited
	}

	var taken bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM folder_collaborators WHERE folder_id=$1 AND user_id=$2)
			OR EXISTS(SELECT 1 FROM folder_invitations WHERE folder_id=$1 AND user_id=$2)
	`, folderID, targetID).Scan(&taken)
	if err != nil {
		return fmt.Errorf("check existing membership: %w", err)
	}
	if taken {
		return ErrAlreadyInvited
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO folder_invitations (folder_id, user_id)
		VALUES ($1, $2)
	`, folderID, targetID); err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit invite tx: %w", err)
	}
	return nil
}

// AcceptInvitation atomically moves userID from the invitation set to the
// collaborator set. ErrNoInvitation when no pending invitation exists, which
// also makes a second accept of the same invitation fail cleanly.
func (s *PostgresStore) AcceptInvitation(ctx context.Context, folderID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin accept tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var folderExists string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM folders WHERE id=$1 FOR UPDATE`, folderID).Scan(&folderExists); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM folder_invitations WHERE folder_id=$1 AND user_id=$2
	`, folderID, userID)
	if err != nil {
		return fmt.Errorf("remove invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove invitation rows: %w", err)
	}
	if affected == 0 {
		return ErrNoInvitation
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO folder_collaborators (folder_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (folder_id, user_id) DO NOTHING
	`, folderID, userID); err != nil {
		return fmt.Errorf("insert collaborator: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit accept tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveCollaborator(ctx context.Context, folderID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM folder_collaborators WHERE folder_id=$1 AND user_id=$2
	`, folderID, userID)
	if err != nil {
		return false, fmt.Errorf("remove collaborator: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove collaborator rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListFoldersForUser(ctx context.Context, userID string) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT f.id, f.name, f.description, f.owner_id, f.created_at
		FROM folders f
		LEFT JOIN folder_collaborators fc ON fc.folder_id = f.id
		WHERE f.owner_id=$1 OR fc.user_id=$1
		ORDER BY f.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list folders for user: %w", err)
	}
	defer rows.Close()

	items := make([]Folder, 0)
	for rows.Next() {
		var folder Folder
		if err := rows.Scan(&folder.ID, &folder.Name, &folder.Description, &folder.OwnerID, &folder.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		items = append(items, folder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListInvitedFolders(ctx context.Context, userID string) ([]InvitedFolder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.name, f.description, f.owner_id, f.created_at,
			u.id, u.first_name, u.last_name, u.email
		FROM folder_invitations fi
		JOIN folders f ON f.id = fi.folder_id
		JOIN users u ON u.id = f.owner_id
		WHERE fi.user_id=$1
		ORDER BY fi.invited_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list invited folders: %w", err)
	}
	defer rows.Close()

	items := make([]InvitedFolder, 0)
	for rows.Next() {
		var item InvitedFolder
		if err := rows.Scan(
			&item.ID,
			&item.Name,
			&item.Description,
			&item.OwnerID,
			&item.CreatedAt,
			&item.Owner.ID,
			&item.Owner.FirstName,
			&item.Owner.LastName,
			&item.Owner.Email,
		); err != nil {
			return nil, fmt.Errorf("scan invited folder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invited folders: %w", err)
	}
	return items, nil
}

// DeleteFolderCascade removes the folder and every dependent record in one
// transaction, returning the ids of file blobs the caller should remove from
// the content store after commit.
func (s *PostgresStore) DeleteFolderCascade(ctx context.Context, folderID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var folderExists string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM folders WHERE id=$1 FOR UPDATE`, folderID).Scan(&folderExists); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE folder_id=$1`, folderID); err != nil {
		return nil, fmt.Errorf("delete folder chat: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `DELETE FROM files WHERE folder_id=$1 RETURNING id`, folderID)
	if err != nil {
		return nil, fmt.Errorf("delete folder files: %w", err)
	}
	blobIDs := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan deleted file id: %w", err)
		}
		blobIDs = append(blobIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate deleted file ids: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM folder_collaborators WHERE folder_id=$1`, folderID); err != nil {
		return nil, fmt.Errorf("delete folder collaborators: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM folder_invitations WHERE folder_id=$1`, folderID); err != nil {
		return nil, fmt.Errorf("delete folder invitations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id=$1`, folderID); err != nil {
		return nil, fmt.Errorf("delete folder: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete tx: %w", err)
	}
	return blobIDs, nil
}

// ---- files ----

func (s *PostgresStore) InsertFile(ctx context.Context, file FileMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, name, folder_id, uploader_id, content_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, file.ID, file.Name, file.FolderID, file.UploaderID, file.ContentType, file.SizeBytes)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFile(ctx context.Context, fileID string) (FileMeta, error) {
	var file FileMeta
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, folder_id, uploader_id, content_type, size_bytes, created_at
		FROM files
		WHERE id=$1
	`, fileID).Scan(&file.ID, &file.Name, &file.FolderID, &file.UploaderID, &file.ContentType, &file.SizeBytes, &file.CreatedAt)
	if err != nil {
		return FileMeta{}, err
	}
	return file, nil
}

func (s *PostgresStore) ListFilesByFolder(ctx context.Context, folderID string) ([]FileMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.name, f.folder_id, f.uploader_id, f.content_type, f.size_bytes, f.created_at,
			u.first_name, u.email
		FROM files f
		JOIN users u ON u.id = f.uploader_id
		WHERE f.folder_id=$1
		ORDER BY f.created_at DESC
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list folder files: %w", err)
	}
	defer rows.Close()
	return scanFiles(rows)
}

func (s *PostgresStore) ListFilesByUploader(ctx context.Context, userID string) ([]FileMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.name, f.folder_id, f.uploader_id, f.content_type, f.size_bytes, f.created_at,
			u.first_name, u.email
		FROM files f
		JOIN users u ON u.id = f.uploader_id
		WHERE f.uploader_id=$1
		ORDER BY f.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list uploader files: %w", err)
	}
	defer rows.Close()
	return scanFiles(rows)
}

func scanFiles(rows *sql.Rows) ([]FileMeta, error) {
	items := make([]FileMeta, 0)
	for rows.Next() {
		var file FileMeta
		if err := rows.Scan(
			&file.ID,
			&file.Name,
			&file.FolderID,
			&file.UploaderID,
			&file.ContentType,
			&file.SizeBytes,
			&file.CreatedAt,
			&file.UploaderName,
			&file.UploaderEmail,
		); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		items = append(items, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RenameFile(ctx context.Context, fileID, name string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE files SET name=$2 WHERE id=$1`, fileID, name)
	if err != nil {
		return false, fmt.Errorf("rename file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rename file rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteFile(ctx context.Context, fileID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id=$1`, fileID)
	if err != nil {
		return false, fmt.Errorf("delete file: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete file rows: %w", err)
	}
	return affected > 0, nil
}

// ---- chat ----

// InsertChatMessage persists a message with a server-assigned timestamp and
// returns the stored row so broadcast sees exactly what replay will see.
func (s *PostgresStore) InsertChatMessage(ctx context.Context, id, folderID, senderID, body string) (ChatMessage, error) {
	message := ChatMessage{ID: id, FolderID: folderID, SenderID: senderID, Body: body}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_messages (id, folder_id, sender_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING seq, created_at
	`, id, folderID, senderID, body).Scan(&message.Seq, &message.CreatedAt)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("insert chat message: %w", err)
	}
	return message, nil
}

func (s *PostgresStore) ListChatMessages(ctx context.Context, folderID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.folder_id, m.sender_id, m.body, m.seq, m.created_at,
			u.first_name, u.email, u.role
		FROM chat_messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.folder_id=$1
		ORDER BY m.created_at ASC, m.seq ASC
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	items := make([]ChatMessage, 0)
	for rows.Next() {
		var message ChatMessage
		if err := rows.Scan(
			&message.ID,
			&message.FolderID,
			&message.SenderID,
			&message.Body,
			&message.Seq,
			&message.CreatedAt,
			&message.SenderName,
			&message.SenderEmail,
			&message.SenderRole,
		); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		items = append(items, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return items, nil
}
