// Package access decides what a user may do with a folder.
package access

type Class string

const (
	Owner        Class = "owner"
	Collaborator Class = "collaborator"
	None         Class = "none"
)

// Classify returns the membership class of userID for a folder. It never
// errors; an unknown user is simply None.
func Classify(ownerID string, collaboratorIDs []string, userID string) Class {
	if userID == "" {
		return None
	}
	if ownerID == userID {
		return Owner
	}
	for _, id := range collaboratorIDs {
		if id == userID {
			return Collaborator
		}
	}
	return None
}

// IsMember reports whether the class grants folder read access.
func (c Class) IsMember() bool {
	return c == Owner || c == Collaborator
}

// IsAdmin reports whether a session role claim carries the admin override.
// The override widens chat access (history, send, realtime join) only; it
// does not extend to folder or file mutations.
func IsAdmin(role string) bool {
	return role == "admin"
}

// CanChat reports whether the user may read or post chat for the folder.
func CanChat(class Class, role string) bool {
	return class.IsMember() || IsAdmin(role)
}
