package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediahub/internal/domain"
	"mediahub/internal/repository"
)

const fileColumns = `id, user_id, filename, status, size, type, url, object_path, description, created_at, updated_at`

var fileSortColumns = map[domain.FileSortField]string{
	domain.FileSortCreatedAt: "created_at",
	domain.FileSortName:      "filename",
	domain.FileSortStatus:    "status",
}

type FileRepository struct {
	db *DB
}

func NewFileRepository(db *DB) repository.FileRepository {
	return &FileRepository{db: db}
}

func (r *FileRepository) Create(ctx context.Context, file *domain.File) (int64, error) {
	now := time.Now().UTC()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	file.UpdatedAt = now

	var id int64
	err := r.db.queryRow(ctx, `
INSERT INTO files (user_id, filename, status, size, type, url, object_path, description, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`,
		file.UserID,
		file.Filename,
		string(file.Status),
		file.Size,
		file.Type,
		file.URL,
		file.ObjectPath,
		nullString(file.Description),
		file.CreatedAt.UTC(),
		file.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}

	file.ID = id
	return id, nil
}

func (r *FileRepository) Get(ctx context.Context, id int64) (*domain.File, error) {
	row := r.db.queryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	return scanFile(row)
}

func (r *FileRepository) GetForUser(ctx context.Context, userID, id int64) (*domain.File, error) {
	row := r.db.queryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ? AND user_id = ?`, id, userID)
	return scanFile(row)
}

func (r *FileRepository) List(ctx context.Context, q domain.FileListQuery) ([]domain.File, int, error) {
	column, ok := fileSortColumns[q.SortBy]
	if !ok {
		column = fileSortColumns[domain.FileSortCreatedAt]
	}
	direction := "ASC"
	if q.Order == domain.SortDesc {
		direction = "DESC"
	}

	rows, err := r.db.query(ctx, fmt.Sprintf(`
SELECT %s
FROM files
WHERE user_id = ?
ORDER BY %s %s, id %s
LIMIT ? OFFSET ?`, fileColumns, column, direction, direction),
		q.UserID,
		q.PageSize,
		q.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	files := []domain.File{}
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, 0, err
		}
		files = append(files, *file)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate files: %w", err)
	}

	var total int
	if err := r.db.queryRow(ctx, `SELECT COUNT(id) FROM files WHERE user_id = ?`, q.UserID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}

	return files, total, nil
}

func (r *FileRepository) TransitionStatus(ctx context.Context, id int64, status domain.FileStatus, from ...domain.FileStatus) (bool, error) {
	query := `UPDATE files SET status=?, updated_at=? WHERE id=?`
	args := []any{string(status), time.Now().UTC(), id}
	if len(from) > 0 {
		clause, inArgs := inClause(from)
		query += ` AND status IN ` + clause
		args = append(args, inArgs...)
	}

	res, err := r.db.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update file status: %w", err)
	}
	return rowsChanged(res, "file status")
}

func (r *FileRepository) Complete(ctx context.Context, id int64, description string) (bool, error) {
	res, err := r.db.exec(ctx, `
UPDATE files
SET status=?, description=?, updated_at=?
WHERE id=? AND status=?`,
		string(domain.FileStatusSuccess),
		description,
		time.Now().UTC(),
		id,
		string(domain.FileStatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("complete file: %w", err)
	}
	return rowsChanged(res, "file complete")
}

func (r *FileRepository) DeleteFinished(ctx context.Context, userID, id int64) (bool, error) {
	clause, inArgs := inClause(domain.ActiveFileStatuses)
	args := append([]any{id, userID}, inArgs...)
	res, err := r.db.exec(ctx, `DELETE FROM files WHERE id=? AND user_id=? AND status NOT IN `+clause, args...)
	if err != nil {
		return false, fmt.Errorf("delete file: %w", err)
	}
	return rowsChanged(res, "file delete")
}

func inClause(statuses []domain.FileStatus) (string, []any) {
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = string(s)
	}
	return "(" + strings.Join(placeholders, ",") + ")", args
}

func scanFile(row scanner) (*domain.File, error) {
	var (
		file        domain.File
		status      string
		description sql.NullString
	)
	if err := row.Scan(
		&file.ID,
		&file.UserID,
		&file.Filename,
		&status,
		&file.Size,
		&file.Type,
		&file.URL,
		&file.ObjectPath,
		&description,
		&file.CreatedAt,
		&file.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan file: %w", err)
	}

	file.Status = domain.FileStatus(status)
	file.Description = stringPtr(description)
	return &file, nil
}
