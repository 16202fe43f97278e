package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/voyagen/lineup/internal/commit"
	"github.com/voyagen/lineup/internal/models"
)

// SQLite implements Store on an embedded single-file database.
type SQLite struct {
	db *sql.DB
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLite opens (creating if needed) the database at path after applying the
// embedded SQLite migrations.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	if err := migrateSQLite(path); err != nil {
		return nil, err
	}
	// modernc.org/sqlite driver name is "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// One connection keeps pragmas and transactions on the same handle.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", p, err)
		}
	}
	return &SQLite{db: db}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const sqliteChannelColumns = `c.id, c.channel_number, c.name, c.image, c.group_id,
	(SELECT group_concat(cs.stream_id, ',' ORDER BY cs.position) FROM channel_streams cs WHERE cs.channel_id = c.id)`

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteChannel(row sqlScanner) (models.Channel, error) {
	var (
		ch      models.Channel
		number  sql.NullInt64
		image   sql.NullString
		groupID sql.NullInt64
		streams sql.NullString
	)
	if err := row.Scan(&ch.ID, &number, &ch.Name, &image, &groupID, &streams); err != nil {
		return models.Channel{}, err
	}
	if number.Valid {
		ch.Number = models.IntPtr(int(number.Int64))
	}
	if image.Valid {
		ch.Image = models.StringPtr(image.String)
	}
	if groupID.Valid {
		ch.GroupID = models.Int64Ptr(groupID.Int64)
	}
	if streams.Valid && streams.String != "" {
		for _, part := range strings.Split(streams.String, ",") {
			var id int64
			if _, err := fmt.Sscan(part, &id); err != nil {
				return models.Channel{}, fmt.Errorf("stream id %q: %w", part, err)
			}
			ch.StreamIDs = append(ch.StreamIDs, id)
		}
	}
	return ch, nil
}

func (s *SQLite) queryChannels(ctx context.Context, query string, args ...any) ([]models.Channel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	channels := []models.Channel{}
	for rows.Next() {
		ch, err := scanSQLiteChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// LoadCatalog returns every channel and group.
func (s *SQLite) LoadCatalog(ctx context.Context) (models.Catalog, error) {
	channels, err := s.queryChannels(ctx, `SELECT `+sqliteChannelColumns+` FROM channels c ORDER BY c.channel_number IS NULL, c.channel_number, c.id`)
	if err != nil {
		return models.Catalog{}, fmt.Errorf("LoadCatalog: %w", err)
	}
	groups, err := s.ListGroups(ctx)
	if err != nil {
		return models.Catalog{}, err
	}
	return models.Catalog{Channels: channels, Groups: groups}, nil
}

// GetChannelByID returns a single channel by id.
func (s *SQLite) GetChannelByID(ctx context.Context, channelID int64) (*models.Channel, error) {
	ch, err := sqliteGetChannel(ctx, s.db, channelID)
	if err != nil {
		return nil, fmt.Errorf("GetChannelByID: %w", err)
	}
	return ch, nil
}

func sqliteGetChannel(ctx context.Context, q sqlQuerier, id int64) (*models.Channel, error) {
	ch, err := scanSQLiteChannel(q.QueryRowContext(ctx, `SELECT `+sqliteChannelColumns+` FROM channels c WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListChannels returns channels matching the filter and the total count.
func (s *SQLite) ListChannels(ctx context.Context, filter ChannelFilter) ([]models.Channel, int, error) {
	var where []string
	var args []any
	if filter.GroupID != nil {
		where = append(where, "c.group_id = ?")
		args = append(args, *filter.GroupID)
	}
	if filter.Ungrouped {
		where = append(where, "c.group_id IS NULL")
	}
	if filter.Search != "" {
		where = append(where, "c.name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels c`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListChannels count: %w", err)
	}
	args = append(args, filter.limit(), filter.Offset)
	channels, err := s.queryChannels(ctx,
		`SELECT `+sqliteChannelColumns+` FROM channels c`+cond+` ORDER BY c.channel_number IS NULL, c.channel_number, c.id LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListChannels: %w", err)
	}
	return channels, total, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ListGroups returns groups in position order with channel counts.
func (s *SQLite) ListGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.id, g.name, g.position, (SELECT COUNT(*) FROM channels c WHERE c.group_id = g.id)
		 FROM groups g ORDER BY g.position, g.id`)
	if err != nil {
		return nil, fmt.Errorf("ListGroups: %w", err)
	}
	defer rows.Close()
	groups := []models.Group{}
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Position, &g.ChannelCount); err != nil {
			return nil, fmt.Errorf("ListGroups scan: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GetOrCreateGroup returns the group id for name, appending new groups at the end.
func (s *SQLite) GetOrCreateGroup(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO groups (name, position)
		 VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM groups))
		 ON CONFLICT (name) DO UPDATE SET name = excluded.name
		 RETURNING id`,
		name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("GetOrCreateGroup: %w", err)
	}
	return id, nil
}

// GetOrCreateStream returns the stream id for url.
func (s *SQLite) GetOrCreateStream(ctx context.Context, name, url string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO streams (name, url) VALUES (?, ?)
		 ON CONFLICT (url) DO UPDATE SET name = excluded.name
		 RETURNING id`,
		name, url,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("GetOrCreateStream: %w", err)
	}
	return id, nil
}

// ListStreams returns streams by id in the order given.
func (s *SQLite) ListStreams(ctx context.Context, ids []int64) ([]models.Stream, error) {
	if len(ids) == 0 {
		return []models.Stream{}, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, url FROM streams WHERE id IN (`+marks+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("ListStreams: %w", err)
	}
	defer rows.Close()
	byID := map[int64]models.Stream{}
	for rows.Next() {
		var st models.Stream
		if err := rows.Scan(&st.ID, &st.Name, &st.URL); err != nil {
			return nil, fmt.Errorf("ListStreams scan: %w", err)
		}
		byID[st.ID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListStreams: %w", err)
	}
	return orderStreams(ids, byID), nil
}

// Submit persists a diff in one transaction with a savepoint per item. SQLite
// checks unique indexes immediately, so channel numbers are not indexed as
// unique; duplicates are detected once all items ran and fail the whole commit.
func (s *SQLite) Submit(ctx context.Context, items []commit.Item) ([]commit.Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Submit begin: %w", err)
	}
	defer tx.Rollback()

	results := make([]commit.Result, len(items))
	for i, item := range items {
		if _, err := tx.ExecContext(ctx, `SAVEPOINT item`); err != nil {
			return nil, fmt.Errorf("Submit savepoint: %w", err)
		}
		entity, err := sqliteApply(ctx, tx, item)
		if err != nil {
			if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO item`); rbErr != nil {
				return nil, fmt.Errorf("Submit rollback %s: %w", item, rbErr)
			}
			log.Printf("store: %s rejected: %v", item, err)
			results[i] = commit.Failure(item, err)
		} else {
			results[i] = commit.Success(item, entity)
		}
		if _, err := tx.ExecContext(ctx, `RELEASE item`); err != nil {
			return nil, fmt.Errorf("Submit release %s: %w", item, err)
		}
	}

	var dup int
	err = tx.QueryRowContext(ctx,
		`SELECT channel_number FROM channels WHERE channel_number IS NOT NULL
		 GROUP BY channel_number HAVING COUNT(*) > 1 ORDER BY channel_number LIMIT 1`,
	).Scan(&dup)
	switch {
	case err == nil:
		return nil, fmt.Errorf("Submit: %w: %d", ErrDuplicateNumber, dup)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("Submit check numbers: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Submit commit: %w", err)
	}
	return results, nil
}

func sqliteApply(ctx context.Context, q sqlQuerier, item commit.Item) (*models.Channel, error) {
	switch item.Kind {
	case commit.KindCreate:
		ch := item.Fields.Channel
		if ch == nil {
			return nil, errors.New("create without channel")
		}
		res, err := q.ExecContext(ctx,
			`INSERT INTO channels (channel_number, name, image, group_id) VALUES (?, ?, ?, ?)`,
			nullInt(ch.Number), ch.Name, nullString(ch.Image), nullInt64(ch.GroupID),
		)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		if err := sqliteSetStreams(ctx, q, id, ch.StreamIDs); err != nil {
			return nil, err
		}
		return sqliteGetChannel(ctx, q, id)

	case commit.KindUpdate:
		sets, args := updateSets(item.Fields.Update, func(int) string { return "?" })
		if len(sets) == 0 {
			return sqliteGetChannel(ctx, q, item.EntityID)
		}
		args = append(args, item.EntityID)
		res, err := q.ExecContext(ctx, `UPDATE channels SET `+strings.Join(sets, ", ")+`, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, args...)
		if err := affectedOne(res, err, item.EntityID); err != nil {
			return nil, err
		}
		return sqliteGetChannel(ctx, q, item.EntityID)

	case commit.KindDelete:
		res, err := q.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, item.EntityID)
		if err := affectedOne(res, err, item.EntityID); err != nil {
			return nil, err
		}
		return nil, nil

	case commit.KindMoveGroup:
		res, err := q.ExecContext(ctx, `UPDATE channels SET group_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, nullInt64(item.Fields.GroupID), item.EntityID)
		if err := affectedOne(res, err, item.EntityID); err != nil {
			return nil, err
		}
		return sqliteGetChannel(ctx, q, item.EntityID)

	case commit.KindReorderStreams:
		if _, err := sqliteGetChannel(ctx, q, item.EntityID); err != nil {
			return nil, err
		}
		if err := sqliteSetStreams(ctx, q, item.EntityID, item.Fields.StreamIDs); err != nil {
			return nil, err
		}
		return sqliteGetChannel(ctx, q, item.EntityID)
	}
	return nil, fmt.Errorf("unknown item kind %q", item.Kind)
}

func affectedOne(res sql.Result, err error, id int64) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("channel %d: %w", id, ErrNotFound)
	}
	return nil
}

func sqliteSetStreams(ctx context.Context, q sqlQuerier, channelID int64, streamIDs []int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM channel_streams WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("clear streams: %w", err)
	}
	for pos, sid := range streamIDs {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO channel_streams (channel_id, stream_id, position) VALUES (?, ?, ?)`,
			channelID, sid, pos,
		); err != nil {
			return fmt.Errorf("set stream %d: %w", sid, err)
		}
	}
	return nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
