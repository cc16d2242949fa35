package core

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
)

// Post is a timeline entry joined with its author's nick.
type Post struct {
	ID         int64
	Content    string
	Img        string
	UserID     int64
	AuthorNick string
	CreatedAt  time.Time
}

type PostRepository interface {
	Timeline(ctx context.Context, page, perPage int) ([]Post, int, error)
	ListByUser(ctx context.Context, userID int64, page, perPage int) ([]Post, int, error)
	ListByHashtag(ctx context.Context, title string, page, perPage int) ([]Post, int, error)
	Create(ctx context.Context, userID int64, content, img string) (*Post, error)
}

var errInvalidPagination = errors.New("invalid pagination")

const maxHashtagLen = 15

var hashtagPattern = regexp.MustCompile(`#[\p{L}\p{N}_]+`)

// ParseHashtags extracts distinct lower-cased tags (without '#') from content.
// Tags longer than the column allows are skipped.
func ParseHashtags(content string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, m := range hashtagPattern.FindAllString(content, -1) {
		tag := strings.ToLower(strings.TrimPrefix(m, "#"))
		if tag == "" || len([]rune(tag)) > maxHashtagLen {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// SQLPostRepository implements PostRepository on DB.
type SQLPostRepository struct {
	db *DB
}

func NewSQLPostRepository(db *DB) *SQLPostRepository {
	return &SQLPostRepository{db: db}
}

const postSelect = `
SELECT p.id, p.content, p.img, p.user_id, u.nick, p.created_at
FROM posts p
JOIN users u ON u.id = p.user_id AND u.deleted_at IS NULL
`

func (r *SQLPostRepository) Timeline(ctx context.Context, page, perPage int) ([]Post, int, error) {
	return r.list(ctx,
		`SELECT COUNT(*) FROM posts p JOIN users u ON u.id = p.user_id AND u.deleted_at IS NULL`,
		postSelect+`ORDER BY p.created_at DESC, p.id DESC LIMIT ? OFFSET ?`,
		nil, page, perPage)
}

func (r *SQLPostRepository) ListByUser(ctx context.Context, userID int64, page, perPage int) ([]Post, int, error) {
	return r.list(ctx,
		`SELECT COUNT(*) FROM posts p JOIN users u ON u.id = p.user_id AND u.deleted_at IS NULL WHERE p.user_id=?`,
		postSelect+`WHERE p.user_id=? ORDER BY p.created_at DESC, p.id DESC LIMIT ? OFFSET ?`,
		[]any{userID}, page, perPage)
}

func (r *SQLPostRepository) ListByHashtag(ctx context.Context, title string, page, perPage int) ([]Post, int, error) {
	title = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(title), "#"))
	return r.list(ctx,
		`SELECT COUNT(*) FROM posts p
JOIN users u ON u.id = p.user_id AND u.deleted_at IS NULL
JOIN post_hashtags ph ON ph.post_id = p.id
JOIN hashtags h ON h.id = ph.hashtag_id
WHERE h.title=?`,
		postSelect+`JOIN post_hashtags ph ON ph.post_id = p.id
JOIN hashtags h ON h.id = ph.hashtag_id
WHERE h.title=? ORDER BY p.created_at DESC, p.id DESC LIMIT ? OFFSET ?`,
		[]any{title}, page, perPage)
}

func (r *SQLPostRepository) list(ctx context.Context, countQ, listQ string, args []any, page, perPage int) ([]Post, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errInvalidPagination
	}
	var total int
	if err := r.db.QueryRowContext(ctx, r.db.Rebind(countQ), args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	listArgs := append(append([]any{}, args...), perPage, (page-1)*perPage)
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(listQ), listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := make([]Post, 0, perPage)
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.Content, &p.Img, &p.UserID, &p.AuthorNick, &p.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// Create stores a post and links every hashtag found in its content, all in
// one transaction.
func (r *SQLPostRepository) Create(ctx context.Context, userID int64, content, img string) (*Post, error) {
	content = strings.TrimSpace(content)
	ts := now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p := Post{Content: content, Img: img, UserID: userID, CreatedAt: ts}
	q := r.db.Rebind(`INSERT INTO posts (content, img, user_id, created_at, updated_at) VALUES (?,?,?,?,?) RETURNING id`)
	if err := tx.QueryRowContext(ctx, q, content, img, userID, ts, ts).Scan(&p.ID); err != nil {
		return nil, err
	}

	upsertTag := r.db.Rebind(`INSERT INTO hashtags (title, created_at) VALUES (?,?) ON CONFLICT (title) DO NOTHING`)
	selectTag := r.db.Rebind(`SELECT id FROM hashtags WHERE title=?`)
	link := r.db.Rebind(`INSERT INTO post_hashtags (post_id, hashtag_id) VALUES (?,?) ON CONFLICT DO NOTHING`)
	for _, tag := range ParseHashtags(content) {
		if _, err := tx.ExecContext(ctx, upsertTag, tag, ts); err != nil {
			return nil, err
		}
		var tagID int64
		if err := tx.QueryRowContext(ctx, selectTag, tag).Scan(&tagID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, link, p.ID, tagID); err != nil {
			return nil, err
		}
	}

	if err := tx.QueryRowContext(ctx, r.db.Rebind(`SELECT nick FROM users WHERE id=?`), userID).Scan(&p.AuthorNick); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &p, nil
}
