package pages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/hublinks/hublinks/pkg/models"
)

// ErrNotFound is returned when a page does not exist.
var ErrNotFound = errors.New("page not found")

// Store is a SQLite-backed page hierarchy.
type Store struct {
	db *sql.DB
}

const createPagesTable = `
CREATE TABLE IF NOT EXISTS pages (
	id INTEGER PRIMARY KEY,
	parent_id INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'publish',
	menu_order INTEGER NOT NULL DEFAULT 0,
	path TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_pages_parent ON pages(parent_id, status, menu_order, title);
CREATE INDEX IF NOT EXISTS idx_pages_path ON pages(path);
`

const pageColumns = `id, parent_id, title, status, menu_order, path`

// New opens the page store and runs auto-migration.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open page db: %w", err)
	}

	if _, err := db.Exec(createPagesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate page db: %w", err)
	}

	return &Store{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (models.Page, error) {
	var p models.Page
	var status string
	if err := row.Scan(&p.ID, &p.ParentID, &p.Title, &status, &p.MenuOrder, &p.Path); err != nil {
		return models.Page{}, err
	}
	p.Status = models.PageStatus(status)
	return p, nil
}

// Lookup returns the page with the given id.
func (s *Store) Lookup(ctx context.Context, id int64) (models.Page, error) {
	p, err := scanPage(s.db.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Page{}, fmt.Errorf("lookup page %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Page{}, fmt.Errorf("lookup page %d: %w", id, err)
	}
	return p, nil
}

// ByPath returns the page served at the given site-relative path.
func (s *Store) ByPath(ctx context.Context, path string) (models.Page, error) {
	path = NormalizePath(path)
	p, err := scanPage(s.db.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE path = ? ORDER BY id LIMIT 1`, path,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Page{}, fmt.Errorf("page at %q: %w", path, ErrNotFound)
	}
	if err != nil {
		return models.Page{}, fmt.Errorf("page at %q: %w", path, err)
	}
	return p, nil
}

// Children returns the direct children of parentID ordered by menu order,
// then title. q.Limit bounds the result; an empty Status matches any status.
func (s *Store) Children(ctx context.Context, parentID int64, q models.ChildQuery) ([]models.Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages WHERE parent_id = ?`
	args := []any{parentID}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	query += ` ORDER BY menu_order ASC, title ASC, id ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list children of %d: %w", parentID, err)
	}
	defer rows.Close()

	var pages []models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// List returns every page ordered by id.
func (s *Store) List(ctx context.Context) ([]models.Page, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pageColumns+` FROM pages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []models.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// Upsert inserts or replaces pages in a single transaction.
func (s *Store) Upsert(ctx context.Context, pages ...models.Page) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO pages (id, parent_id, title, status, menu_order, path, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
			parent_id = excluded.parent_id,
			title = excluded.title,
			status = excluded.status,
			menu_order = excluded.menu_order,
			path = excluded.path,
			updated_at = excluded.updated_at`,
	)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range pages {
		if p.ID <= 0 {
			return fmt.Errorf("upsert page %q: id must be positive", p.Title)
		}
		if p.ParentID == p.ID {
			return fmt.Errorf("upsert page %d: page cannot be its own parent", p.ID)
		}
		status := p.Status
		if status == "" {
			status = models.StatusPublish
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.ParentID, p.Title, string(status), p.MenuOrder, NormalizePath(p.Path)); err != nil {
			return fmt.Errorf("upsert page %d: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Delete removes a page. Children keep their parent id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete page %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete page %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete page %d: %w", id, ErrNotFound)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// NormalizePath returns path with a leading and trailing slash and no query.
// The empty path maps to "/".
func NormalizePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}
