package store

import "time"

type User struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

type Folder struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	CreatedAt   time.Time
}

// InvitedFolder is a folder a user has a pending invitation to, with the
// owner joined for display.
type InvitedFolder struct {
	Folder
	Owner User
}

// FileMeta is the metadata row for an uploaded blob. FolderID is nil for
// personal files not scoped to any folder. UploaderName and UploaderEmail
// are joined fields populated by list queries.
type FileMeta struct {
	ID            string
	Name          string
	FolderID      *string
	UploaderID    string
	ContentType   string
	SizeBytes     int64
	CreatedAt     time.Time
	UploaderName  string
	UploaderEmail string
}

// ChatMessage is immutable once created. Seq breaks same-timestamp ties so
// replay order matches insertion order. Sender fields are joined for display.
type ChatMessage struct {
	ID          string
	FolderID    string
	SenderID    string
	Body        string
	Seq         int64
	CreatedAt   time.Time
	SenderName  string
	SenderEmail string
	SenderRole  string
}
