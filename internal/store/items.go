package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/geethx/workshop/internal/model"
)

const itemColumns = `id, code, name, category, description, image_ref, status,
	checkout_person, project_name, version, created_at, last_updated`

// CreateItem inserts a new item with status Inside. The code must already be
// normalized.
func CreateItem(ctx context.Context, q Querier, item *model.Item) (*model.Item, error) {
	now := toDB(Now())
	result, err := q.ExecContext(ctx,
		`INSERT INTO items (code, name, category, description, image_ref, status, version, created_at, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		item.Code, item.Name, item.Category, nullString(item.Description), nullString(item.ImageRef),
		model.StatusInside, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting item id: %w", err)
	}

	return GetItem(ctx, q, id)
}

// GetItem returns an item by ID.
func GetItem(ctx context.Context, q Querier, id int64) (*model.Item, error) {
	item, err := scanItem(q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// GetItemByCode returns an item by its normalized code.
func GetItemByCode(ctx context.Context, q Querier, code string) (*model.Item, error) {
	item, err := scanItem(q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE code = ?`, code,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item by code: %w", err)
	}
	return item, nil
}

// ListItems returns items matching the filter, ordered by code.
func ListItems(ctx context.Context, q Querier, f model.ItemFilter) ([]model.Item, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		pattern := "%" + escapeLike(strings.ToLower(s)) + "%"
		where = append(where, `(lower(name) LIKE ? ESCAPE '\' OR lower(code) LIKE ? ESCAPE '\'
			OR lower(coalesce(checkout_person, '')) LIKE ? ESCAPE '\'
			OR lower(coalesce(project_name, '')) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern, pattern)
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY code"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	items := []model.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateItemDetails rewrites the descriptive fields of an item if its version
// still matches. It reports whether a row was updated.
func UpdateItemDetails(ctx context.Context, q Querier, item *model.Item) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE items SET name = ?, category = ?, description = ?, image_ref = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		item.Name, item.Category, nullString(item.Description), nullString(item.ImageRef),
		item.ID, item.Version,
	)
	if err != nil {
		return false, fmt.Errorf("updating item: %w", err)
	}
	return affected(result)
}

// UpdateItemStatus moves an item to status if its version still matches.
// Checkout details are stored only for StatusOutside.
func UpdateItemStatus(ctx context.Context, q Querier, id, version int64, status, checkoutPerson, projectName string, at time.Time) (bool, error) {
	if status != model.StatusOutside {
		checkoutPerson, projectName = "", ""
	}
	result, err := q.ExecContext(ctx,
		`UPDATE items SET status = ?, checkout_person = ?, project_name = ?, last_updated = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		status, nullString(checkoutPerson), nullString(projectName), toDB(at), id, version,
	)
	if err != nil {
		return false, fmt.Errorf("updating item status: %w", err)
	}
	return affected(result)
}

// DeleteItem removes an item. Its ledger entries remain.
func DeleteItem(ctx context.Context, q Querier, id int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return nil
}

// SetItemImage stores an item's photo and points its imageRef at it.
func SetItemImage(ctx context.Context, q Querier, id int64, image []byte, mime, ref string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE items SET image = ?, image_mime = ?, image_ref = ?, version = version + 1 WHERE id = ?`,
		image, mime, ref, id,
	)
	if err != nil {
		return fmt.Errorf("setting item image: %w", err)
	}
	return nil
}

// GetItemImage returns an item's photo and MIME type. Both are empty when the
// item has no stored photo.
func GetItemImage(ctx context.Context, q Querier, id int64) ([]byte, string, error) {
	var image []byte
	var mime sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT image, image_mime FROM items WHERE id = ?`, id,
	).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item image: %w", err)
	}
	return image, mime.String, nil
}

// ItemCounts is the per-status and per-category tally of the catalog.
type ItemCounts struct {
	Total      int
	Inside     int
	Outside    int
	Categories map[string]int
}

// CountItems tallies the catalog in a single pass.
func CountItems(ctx context.Context, q Querier) (*ItemCounts, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT category, status, COUNT(*) FROM items GROUP BY category, status`,
	)
	if err != nil {
		return nil, fmt.Errorf("counting items: %w", err)
	}
	defer rows.Close()

	c := &ItemCounts{Categories: map[string]int{}}
	for rows.Next() {
		var (
			category, status string
			n                int
		)
		if err := rows.Scan(&category, &status, &n); err != nil {
			return nil, fmt.Errorf("scanning item count: %w", err)
		}
		c.Total += n
		c.Categories[category] += n
		switch status {
		case model.StatusInside:
			c.Inside += n
		case model.StatusOutside:
			c.Outside += n
		}
	}
	return c, rows.Err()
}

func scanItem(row rowScanner) (*model.Item, error) {
	var (
		item                                   model.Item
		description, imageRef, person, project sql.NullString
		createdAt, lastUpdated                 int64
	)
	err := row.Scan(&item.ID, &item.Code, &item.Name, &item.Category, &description, &imageRef,
		&item.Status, &person, &project, &item.Version, &createdAt, &lastUpdated)
	if err != nil {
		return nil, err
	}
	item.Description = description.String
	item.ImageRef = imageRef.String
	item.CheckoutPerson = person.String
	item.ProjectName = project.String
	item.CreatedAt = fromDB(createdAt)
	item.LastUpdated = fromDB(lastUpdated)
	return &item, nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	return n > 0, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
