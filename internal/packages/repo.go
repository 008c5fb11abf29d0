package packages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"learnhub/internal/apperr"
	"learnhub/pkg/models"
)

// ErrSlugTaken is returned by Create when another row already holds the slug.
var ErrSlugTaken = errors.New("slug already taken")

type Repo struct {
	DB *sql.DB
}

type ListQuery struct {
	Q             string // keyword search in title/description
	SubjectAreaID int64
	TagID         int64
	Type          string // declared type, exact match
	Limit         int
	Offset        int
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

const packageColumns = `id, title, slug, storage_path, cover_image_path, declared_type,
	description, subject_area_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (*models.Package, error) {
	var (
		p           models.Package
		storagePath sql.NullString
		coverPath   sql.NullString
		description sql.NullString
		subjectArea sql.NullInt64
	)
	if err := row.Scan(
		&p.ID, &p.Title, &p.Slug, &storagePath, &coverPath, &p.DeclaredType,
		&description, &subjectArea, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.StoragePath = storagePath.String
	p.CoverImagePath = coverPath.String
	p.Description = description.String
	if subjectArea.Valid {
		id := subjectArea.Int64
		p.SubjectAreaID = &id
	}
	p.TagIDs = []int64{}
	return &p, nil
}

// SlugExists reports whether a row uses s as its slug or storage path.
func (r *Repo) SlugExists(ctx context.Context, s string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM packages WHERE slug = ? OR storage_path = ?
	`, s, s).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("slug exists: %w", err)
	}
	return n > 0, nil
}

func (r *Repo) GetByID(ctx context.Context, id int64) (*models.Package, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *Repo) GetBySlug(ctx context.Context, s string) (*models.Package, error) {
	return r.getOne(ctx, "slug = ?", s)
}

func (r *Repo) getOne(ctx context.Context, where string, arg any) (*models.Package, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE `+where, arg)
	p, err := scanPackage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan package: %w", err)
	}

	tags, err := r.tagsFor(ctx, []int64{p.ID})
	if err != nil {
		return nil, err
	}
	if ids, ok := tags[p.ID]; ok {
		p.TagIDs = ids
	}
	return p, nil
}

// StorageKeys maps every directory name a row claims (slug and storage
// path) to the row's id.
func (r *Repo) StorageKeys(ctx context.Context) (map[string]int64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, slug, storage_path FROM packages`)
	if err != nil {
		return nil, fmt.Errorf("storage keys query: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]int64)
	for rows.Next() {
		var (
			id          int64
			s           string
			storagePath sql.NullString
		)
		if err := rows.Scan(&id, &s, &storagePath); err != nil {
			return nil, fmt.Errorf("storage keys scan: %w", err)
		}
		keys[s] = id
		if storagePath.Valid && storagePath.String != "" {
			keys[storagePath.String] = id
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return keys, nil
}

// Create inserts p and its tag rows in one transaction and fills in p.ID.
func (r *Repo) Create(ctx context.Context, p *models.Package) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create package: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO packages (title, slug, storage_path, cover_image_path, declared_type,
			description, subject_area_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.Title, p.Slug, nullString(p.StoragePath), nullString(p.CoverImagePath), p.DeclaredType,
		nullString(p.Description), nullInt(p.SubjectAreaID), now, now)
	if err != nil {
		return fmt.Errorf("insert package: %w", classify(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert package id: %w", err)
	}

	if err = insertTags(ctx, tx, id, p.TagIDs); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create package: %w", err)
	}

	p.ID = id
	p.CreatedAt, p.UpdatedAt = now, now
	if p.TagIDs == nil {
		p.TagIDs = []int64{}
	}
	return nil
}

// Update writes the mutable columns of p and replaces its tag set.
func (r *Repo) Update(ctx context.Context, p *models.Package) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update package: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE packages
		SET title = ?, description = ?, subject_area_id = ?, cover_image_path = ?, updated_at = ?
		WHERE id = ?
	`, p.Title, nullString(p.Description), nullInt(p.SubjectAreaID), nullString(p.CoverImagePath), now, p.ID)
	if err != nil {
		return fmt.Errorf("update package: %w", classify(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update package rows: %w", err)
	}
	if affected == 0 {
		err = apperr.Errorf(apperr.PackageNotFound, "update package", "package %d not found", p.ID)
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM package_tags WHERE package_id = ?`, p.ID); err != nil {
		return fmt.Errorf("clear package tags: %w", err)
	}
	if err = insertTags(ctx, tx, p.ID, p.TagIDs); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update package: %w", err)
	}
	p.UpdatedAt = now
	return nil
}

// Delete removes the row; tag rows go with it through the cascade.
func (r *Repo) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM packages WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete package: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete package rows: %w", err)
	}
	return affected > 0, nil
}

func (r *Repo) Count(ctx context.Context, q ListQuery) (int, error) {
	sqlStr, args := buildListSQL(q, true)
	var total int
	if err := r.DB.QueryRowContext(ctx, sqlStr, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count scan: %w", err)
	}
	return total, nil
}

func (r *Repo) List(ctx context.Context, q ListQuery) ([]models.Package, error) {
	q = q.normalized()
	sqlStr, args := buildListSQL(q, false)

	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list query: %w", err)
	}

	out := make([]models.Package, 0, q.Limit)
	ids := make([]int64, 0, q.Limit)
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("list scan: %w", err)
		}
		out = append(out, *p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("rows err: %w", err)
	}
	rows.Close()

	// tags are fetched once the list cursor is closed
	tags, err := r.tagsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if t, ok := tags[out[i].ID]; ok {
			out[i].TagIDs = t
		}
	}
	return out, nil
}

const maxListLimit = 100

func (q ListQuery) normalized() ListQuery {
	if q.Limit <= 0 || q.Limit > maxListLimit {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// buildListSQL builds either COUNT(*) or the SELECT list, newest first.
func buildListSQL(q ListQuery, countOnly bool) (string, []any) {
	base := `SELECT ` + packageColumns + ` FROM packages`
	if countOnly {
		base = `SELECT COUNT(*) FROM packages`
	}

	var where []string
	var args []any

	if kw := strings.ToLower(strings.TrimSpace(q.Q)); kw != "" {
		where = append(where, "(LOWER(title) LIKE ? OR LOWER(COALESCE(description, '')) LIKE ?)")
		kw = "%" + kw + "%"
		args = append(args, kw, kw)
	}
	if q.SubjectAreaID > 0 {
		where = append(where, "subject_area_id = ?")
		args = append(args, q.SubjectAreaID)
	}
	if q.TagID > 0 {
		where = append(where, "id IN (SELECT package_id FROM package_tags WHERE tag_id = ?)")
		args = append(args, q.TagID)
	}
	if t := strings.TrimSpace(q.Type); t != "" {
		where = append(where, "declared_type = ?")
		args = append(args, t)
	}

	sqlStr := base
	if len(where) > 0 {
		sqlStr += " WHERE " + strings.Join(where, " AND ")
	}
	if countOnly {
		return sqlStr, args
	}

	sqlStr += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)
	return sqlStr, args
}

func (r *Repo) tagsFor(ctx context.Context, ids []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT package_id, tag_id FROM package_tags
		WHERE package_id IN (`+placeholders+`)
		ORDER BY package_id, tag_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("tags query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pkgID, tagID int64
		if err := rows.Scan(&pkgID, &tagID); err != nil {
			return nil, fmt.Errorf("tags scan: %w", err)
		}
		out[pkgID] = append(out[pkgID], tagID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tags rows err: %w", err)
	}
	return out, nil
}

func insertTags(ctx context.Context, tx *sql.Tx, pkgID int64, tagIDs []int64) error {
	if len(tagIDs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO package_tags (package_id, tag_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare package tags: %w", err)
	}
	defer stmt.Close()

	for _, tagID := range tagIDs {
		if _, err := stmt.ExecContext(ctx, pkgID, tagID); err != nil {
			return fmt.Errorf("insert package tag %d: %w", tagID, classify(err))
		}
	}
	return nil
}

// classify maps sqlite constraint failures onto errors callers act on.
func classify(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		if strings.Contains(se.Error(), "packages.slug") {
			return ErrSlugTaken
		}
	case sqlite3.ErrConstraintForeignKey:
		return apperr.Errorf(apperr.InvalidInput, "save package", "unknown subject area or tag")
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
