package models

// FolderType distinguishes the calendar folder kinds relevant to scheduling.
type FolderType string

const (
	FolderTypePublic   FolderType = "PUBLIC"
	FolderTypePersonal FolderType = "PERSONAL"
	FolderTypeShared   FolderType = "SHARED"
)

// Permission captures the session user's effective rights on one folder.
type Permission struct {
	Visible          bool `db:"visible" json:"visible"`
	CreateObjects    bool `db:"create_objects" json:"create_objects"`
	ReadOwnObjects   bool `db:"read_own" json:"read_own"`
	ReadAllObjects   bool `db:"read_all" json:"read_all"`
	WriteOwnObjects  bool `db:"write_own" json:"write_own"`
	WriteAllObjects  bool `db:"write_all" json:"write_all"`
	DeleteOwnObjects bool `db:"delete_own" json:"delete_own"`
	DeleteAllObjects bool `db:"delete_all" json:"delete_all"`
}

// CanReadObject reports read access to an object created by createdBy.
func (p Permission) CanReadObject(userID, createdBy string) bool {
	if p.ReadAllObjects {
		return true
	}
	return p.ReadOwnObjects && userID == createdBy
}

// CanWriteObject reports write access to an object created by createdBy.
func (p Permission) CanWriteObject(userID, createdBy string) bool {
	if p.WriteAllObjects {
		return true
	}
	return p.WriteOwnObjects && userID == createdBy
}

// CanDeleteObject reports delete access to an object created by createdBy.
func (p Permission) CanDeleteObject(userID, createdBy string) bool {
	if p.DeleteAllObjects {
		return true
	}
	return p.DeleteOwnObjects && userID == createdBy
}

// Folder is a calendar folder with the effective permission of the session
// user already resolved.
type Folder struct {
	ID         string     `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	Type       FolderType `db:"folder_type" json:"folder_type"`
	OwnerID    string     `db:"owner_id" json:"owner_id"`
	Permission Permission `json:"permission"`
}

// IsPublic reports whether the folder lives outside any user's personal tree.
func (f *Folder) IsPublic() bool {
	return f.Type == FolderTypePublic
}
