// Package wordpress reads and rewrites site content directly in a WordPress
// database.
package wordpress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"

	"linksync/internal/linksync"
)

// Repository implements linksync.ContentRepository over the wp_ tables.
type Repository struct {
	db      *sql.DB
	prefix  string
	siteURL string
	sb      sq.StatementBuilderType
}

var _ linksync.ContentRepository = (*Repository)(nil)

// Open connects to the MySQL database described by dsn.
func Open(dsn, prefix, siteURL string) (*Repository, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	// Unchanged rows still count as affected, so updates can detect missing ids.
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(4)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to wordpress database: %w", err)
	}
	r := New(db, prefix, siteURL)
	if r.siteURL == "" {
		home, err := r.Option(context.Background(), "siteurl")
		if err != nil {
			db.Close()
			return nil, err
		}
		r.siteURL = strings.TrimRight(home, "/")
	}
	return r, nil
}

// New wraps an open connection. Table names are prefix + the WordPress name.
func New(db *sql.DB, prefix, siteURL string) *Repository {
	return &Repository{
		db:      db,
		prefix:  prefix,
		siteURL: strings.TrimRight(siteURL, "/"),
		sb:      sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Option returns the value of a wp_options row, or "" if it is not set.
func (r *Repository) Option(ctx context.Context, name string) (string, error) {
	var value string
	err := r.sb.Select("option_value").
		From(r.table("options")).
		Where(sq.Eq{"option_name": name}).
		Limit(1).
		RunWith(r.db).QueryRowContext(ctx).
		Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading option %s: %w", name, err)
	}
	return value, nil
}

func (r *Repository) table(name string) string {
	return r.prefix + name
}

const publish = string(linksync.StatusPublished)

var postColumns = []string{
	"p.ID", "p.post_type", "p.post_status", "p.post_title", "p.post_content",
	"p.post_date_gmt", "p.post_modified_gmt",
}

func (r *Repository) ListCandidates(ctx context.Context, filter linksync.SourceFilter) ([]linksync.Candidate, error) {
	q := r.sb.Select("p.ID", "p.post_type", "LENGTH(p.post_content)").
		From(r.table("posts") + " p").
		Where(sq.Eq{"p.post_status": publish, "p.post_type": filter.Sources()}).
		OrderBy("p.ID")

	if len(filter.Categories) > 0 {
		sub, args, err := r.sb.Select("tr.object_id").
			From(r.table("term_relationships") + " tr").
			Join(r.table("term_taxonomy") + " tt ON tt.term_taxonomy_id = tr.term_taxonomy_id").
			Where(sq.Eq{
				"tt.term_id":  filter.Categories,
				"tt.taxonomy": []string{linksync.TaxonomyCategory, linksync.TaxonomyProductCategory},
			}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("building category filter: %w", err)
		}
		q = q.Where(sq.Expr("p.ID IN ("+sub+")", args...))
	}

	rows, err := q.RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	defer rows.Close()

	var out []linksync.Candidate
	for rows.Next() {
		var c linksync.Candidate
		var size sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Type, &size); err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		c.Status = linksync.StatusPublished
		c.ByteSize = size.Int64
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*linksync.ContentItem, error) {
	row := r.sb.Select(postColumns...).
		From(r.table("posts") + " p").
		Where(sq.Eq{"p.ID": id}).
		RunWith(r.db).QueryRowContext(ctx)

	item, err := r.scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading item %d: %w", id, err)
	}
	return item, nil
}

func (r *Repository) GetManyByIDs(ctx context.Context, ids []int64) ([]linksync.ContentItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.sb.Select(postColumns...).
		From(r.table("posts") + " p").
		Where(sq.Eq{"p.ID": ids}).
		RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading items: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]linksync.ContentItem, len(ids))
	for rows.Next() {
		item, err := r.scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		byID[item.ID] = *item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]linksync.ContentItem, 0, len(byID))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *Repository) scanItem(row sq.RowScanner) (*linksync.ContentItem, error) {
	var item linksync.ContentItem
	var created, modified sql.NullTime
	if err := row.Scan(&item.ID, &item.Type, &item.Status, &item.Title, &item.Body, &created, &modified); err != nil {
		return nil, err
	}
	item.CreatedAt = created.Time
	item.UpdatedAt = modified.Time
	item.URL = r.permalink(item.ID, item.Type)
	return &item, nil
}

// permalink returns the query-string link WordPress resolves regardless of
// the configured permalink structure.
func (r *Repository) permalink(id int64, contentType string) string {
	if contentType == linksync.TypePage {
		return fmt.Sprintf("%s/?page_id=%d", r.siteURL, id)
	}
	return fmt.Sprintf("%s/?p=%d", r.siteURL, id)
}

func (r *Repository) UpdateBody(ctx context.Context, id int64, body string, modifiedAt time.Time) error {
	res, err := r.sb.Update(r.table("posts")).
		Set("post_content", body).
		Set("post_modified", modifiedAt.Local()).
		Set("post_modified_gmt", modifiedAt.UTC()).
		Where(sq.Eq{"ID": id}).
		RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("updating item %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating item %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("item %d not found", id)
	}
	return nil
}

func (r *Repository) GetBuilderProbe(ctx context.Context, itemID int64, probe string) (string, bool, error) {
	var value sql.NullString
	err := r.sb.Select("meta_value").
		From(r.table("postmeta")).
		Where(sq.Eq{"post_id": itemID, "meta_key": probe}).
		OrderBy("meta_id").
		Limit(1).
		RunWith(r.db).QueryRowContext(ctx).
		Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s of %d: %w", probe, itemID, err)
	}
	return value.String, true, nil
}

// SetBuilderProbe updates the first meta row with the key, or inserts one.
func (r *Repository) SetBuilderProbe(ctx context.Context, id int64, probe, value string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := r.sb.Update(r.table("postmeta")).
		Set("meta_value", value).
		Where(sq.Eq{"post_id": id, "meta_key": probe}).
		RunWith(tx).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("updating %s of %d: %w", probe, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating %s of %d: %w", probe, id, err)
	}
	if n == 0 {
		if _, err := r.sb.Insert(r.table("postmeta")).
			Columns("post_id", "meta_key", "meta_value").
			Values(id, probe, value).
			RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("inserting %s of %d: %w", probe, id, err)
		}
	}
	return tx.Commit()
}

func (r *Repository) CategoryIDs(ctx context.Context, itemID int64, taxonomy string) ([]int64, error) {
	rows, err := r.sb.Select("tt.term_id").
		From(r.table("term_relationships") + " tr").
		Join(r.table("term_taxonomy") + " tt ON tt.term_taxonomy_id = tr.term_taxonomy_id").
		Where(sq.Eq{"tr.object_id": itemID, "tt.taxonomy": taxonomy}).
		OrderBy("tt.term_id").
		RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing %s of %d: %w", taxonomy, itemID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) ListTerms(ctx context.Context, taxonomy string) ([]linksync.Term, error) {
	rows, err := r.sb.Select("t.term_id", "t.name", "t.slug", "tt.description").
		From(r.table("terms") + " t").
		Join(r.table("term_taxonomy") + " tt ON tt.term_id = t.term_id").
		Where(sq.Eq{"tt.taxonomy": taxonomy}).
		OrderBy("t.name").
		RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing %s terms: %w", taxonomy, err)
	}
	defer rows.Close()

	var terms []linksync.Term
	for rows.Next() {
		t := linksync.Term{Taxonomy: taxonomy}
		var desc sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &desc); err != nil {
			return nil, err
		}
		t.Description = desc.String
		t.URL = r.termLink(t)
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

func (r *Repository) termLink(t linksync.Term) string {
	if t.Taxonomy == linksync.TaxonomyCategory {
		return fmt.Sprintf("%s/?cat=%d", r.siteURL, t.ID)
	}
	return fmt.Sprintf("%s/?%s=%s", r.siteURL, t.Taxonomy, url.QueryEscape(t.Slug))
}

// fieldType extracts the "type" entry of a serialized field definition.
var fieldType = regexp.MustCompile(`s:4:"type";s:\d+:"([^"]*)"`)

// OverlayFields returns the custom fields of itemID. A field is a meta row
// whose "_"-prefixed twin names a field definition post.
func (r *Repository) OverlayFields(ctx context.Context, itemID int64) ([]linksync.OverlayField, error) {
	rows, err := r.sb.Select("v.meta_key", "v.meta_value", "f.post_content").
		From(r.table("postmeta") + " k").
		Join(r.table("postmeta") + " v ON v.post_id = k.post_id AND v.meta_key = SUBSTR(k.meta_key, 2)").
		Join(r.table("posts") + " f ON f.post_name = k.meta_value AND f.post_type = 'acf-field'").
		Where(sq.Eq{"k.post_id": itemID}).
		Where(sq.Like{"k.meta_value": "field%"}).
		OrderBy("k.meta_id").
		RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing fields of %d: %w", itemID, err)
	}
	defer rows.Close()

	var fields []linksync.OverlayField
	for rows.Next() {
		var f linksync.OverlayField
		var content, def sql.NullString
		if err := rows.Scan(&f.Name, &content, &def); err != nil {
			return nil, err
		}
		f.Content = content.String
		if m := fieldType.FindStringSubmatch(def.String); m != nil {
			f.Type = m[1]
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func (r *Repository) CountByType(ctx context.Context, contentType string) (int, error) {
	var n int
	err := r.sb.Select("COUNT(*)").
		From(r.table("posts")).
		Where(sq.Eq{"post_type": contentType, "post_status": publish}).
		RunWith(r.db).QueryRowContext(ctx).
		Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", contentType, err)
	}
	return n, nil
}

// ResolveURL maps a link to a published item. Query-string links (?p=,
// ?page_id=) are tried first, then the last path segment as a slug, then
// the guid. Posts win over pages, newer ids over older.
func (r *Repository) ResolveURL(ctx context.Context, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return 0, nil
	}

	for _, key := range []string{"p", "page_id"} {
		if v := u.Query().Get(key); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			item, err := r.GetByID(ctx, id)
			if err != nil {
				return 0, err
			}
			if item != nil && item.Status == publish {
				return id, nil
			}
		}
	}

	slug := path.Base(strings.TrimRight(u.Path, "/"))
	if slug == "." || slug == "/" {
		slug = ""
	}

	match := sq.Or{sq.Eq{"guid": raw}}
	if slug != "" {
		match = append(match, sq.Eq{"post_name": slug})
	}

	var id int64
	err = r.sb.Select("ID").
		From(r.table("posts")).
		Where(sq.Eq{"post_status": publish}).
		Where(sq.NotEq{"post_type": []string{"revision", "nav_menu_item", "attachment", "acf-field"}}).
		Where(match).
		OrderBy("post_type = 'post' DESC", "post_type = 'page' DESC", "ID DESC").
		Limit(1).
		RunWith(r.db).QueryRowContext(ctx).
		Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolving %s: %w", raw, err)
	}
	return id, nil
}
