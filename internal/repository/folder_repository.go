package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/chronoshq/chronos-api/internal/models"
	appErrors "github.com/chronoshq/chronos-api/pkg/errors"
)

// FolderRepository resolves calendar folders together with the effective
// permission of one user. The folder subsystem proper lives outside this
// service; this repository is the minimal lookup the calendar core needs.
type FolderRepository struct {
	db *sqlx.DB
}

// NewFolderRepository constructs a folder repository.
func NewFolderRepository(db *sqlx.DB) *FolderRepository {
	return &FolderRepository{db: db}
}

type folderRow struct {
	ID      string            `db:"id"`
	Name    string            `db:"name"`
	Type    models.FolderType `db:"folder_type"`
	OwnerID string            `db:"owner_id"`
	models.Permission
}

// GetFolder resolves a folder with the effective permission of userID.
func (r *FolderRepository) GetFolder(ctx context.Context, folderID, userID string) (*models.Folder, error) {
	const query = `SELECT f.id, f.name, f.folder_type, f.owner_id,
COALESCE(p.visible, f.owner_id = $2) AS visible,
COALESCE(p.create_objects, f.owner_id = $2) AS create_objects,
COALESCE(p.read_own, f.owner_id = $2) AS read_own,
COALESCE(p.read_all, f.owner_id = $2) AS read_all,
COALESCE(p.write_own, f.owner_id = $2) AS write_own,
COALESCE(p.write_all, f.owner_id = $2) AS write_all,
COALESCE(p.delete_own, f.owner_id = $2) AS delete_own,
COALESCE(p.delete_all, f.owner_id = $2) AS delete_all
FROM folders f
LEFT JOIN folder_permissions p ON p.folder_id = f.id AND p.entity_id = $2
WHERE f.id = $1`
	var row folderRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, folderID, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrFolderNotFound, fmt.Sprintf("folder %s not found", folderID))
		}
		return nil, fmt.Errorf("get folder %s: %w", folderID, err)
	}
	return &models.Folder{ID: row.ID, Name: row.Name, Type: row.Type, OwnerID: row.OwnerID, Permission: row.Permission}, nil
}

// VisibleFolders lists the folders the user may see.
func (r *FolderRepository) VisibleFolders(ctx context.Context, userID string) ([]models.Folder, error) {
	const query = `SELECT f.id, f.name, f.folder_type, f.owner_id,
COALESCE(p.visible, f.owner_id = $1) AS visible,
COALESCE(p.create_objects, f.owner_id = $1) AS create_objects,
COALESCE(p.read_own, f.owner_id = $1) AS read_own,
COALESCE(p.read_all, f.owner_id = $1) AS read_all,
COALESCE(p.write_own, f.owner_id = $1) AS write_own,
COALESCE(p.write_all, f.owner_id = $1) AS write_all,
COALESCE(p.delete_own, f.owner_id = $1) AS delete_own,
COALESCE(p.delete_all, f.owner_id = $1) AS delete_all
FROM folders f
LEFT JOIN folder_permissions p ON p.folder_id = f.id AND p.entity_id = $1
WHERE f.owner_id = $1 OR p.visible = TRUE
ORDER BY f.id ASC`
	var rows []folderRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("list visible folders: %w", err)
	}
	folders := make([]models.Folder, 0, len(rows))
	for _, row := range rows {
		folders = append(folders, models.Folder{ID: row.ID, Name: row.Name, Type: row.Type, OwnerID: row.OwnerID, Permission: row.Permission})
	}
	return folders, nil
}
