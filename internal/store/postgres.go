package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voyagen/lineup/internal/commit"
	"github.com/voyagen/lineup/internal/models"
)

// uniqueViolation is the SQLSTATE Postgres reports for unique constraint failures.
const uniqueViolation = "23505"

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// pgQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

const pgChannelColumns = `c.id, c.channel_number, c.name, c.image, c.group_id,
	COALESCE((SELECT array_agg(cs.stream_id ORDER BY cs.position) FROM channel_streams cs WHERE cs.channel_id = c.id), '{}')`

func scanPgChannel(row pgx.Row) (models.Channel, error) {
	var ch models.Channel
	var streams []int64
	if err := row.Scan(&ch.ID, &ch.Number, &ch.Name, &ch.Image, &ch.GroupID, &streams); err != nil {
		return models.Channel{}, err
	}
	if len(streams) > 0 {
		ch.StreamIDs = streams
	}
	return ch, nil
}

// LoadCatalog returns every channel and group.
func (p *Postgres) LoadCatalog(ctx context.Context) (models.Catalog, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+pgChannelColumns+` FROM channels c ORDER BY c.channel_number NULLS LAST, c.id`)
	if err != nil {
		return models.Catalog{}, fmt.Errorf("LoadCatalog: %w", err)
	}
	defer rows.Close()
	channels := []models.Channel{}
	for rows.Next() {
		ch, err := scanPgChannel(rows)
		if err != nil {
			return models.Catalog{}, fmt.Errorf("LoadCatalog scan: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return models.Catalog{}, fmt.Errorf("LoadCatalog: %w", err)
	}
	groups, err := p.ListGroups(ctx)
	if err != nil {
		return models.Catalog{}, err
	}
	return models.Catalog{Channels: channels, Groups: groups}, nil
}

// GetChannelByID returns a single channel by id.
func (p *Postgres) GetChannelByID(ctx context.Context, channelID int64) (*models.Channel, error) {
	ch, err := pgGetChannel(ctx, p.pool, channelID)
	if err != nil {
		return nil, fmt.Errorf("GetChannelByID: %w", err)
	}
	return ch, nil
}

func pgGetChannel(ctx context.Context, q pgQuerier, id int64) (*models.Channel, error) {
	ch, err := scanPgChannel(q.QueryRow(ctx, `SELECT `+pgChannelColumns+` FROM channels c WHERE c.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("channel %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListChannels returns channels matching the filter and the total count.
func (p *Postgres) ListChannels(ctx context.Context, filter ChannelFilter) ([]models.Channel, int, error) {
	var where []string
	var args []any
	if filter.GroupID != nil {
		args = append(args, *filter.GroupID)
		where = append(where, fmt.Sprintf("c.group_id = $%d", len(args)))
	}
	if filter.Ungrouped {
		where = append(where, "c.group_id IS NULL")
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("c.name ILIKE $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM channels c`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListChannels count: %w", err)
	}

	args = append(args, filter.limit(), filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM channels c%s ORDER BY c.channel_number NULLS LAST, c.id LIMIT $%d OFFSET $%d`,
		pgChannelColumns, cond, len(args)-1, len(args))
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListChannels: %w", err)
	}
	defer rows.Close()
	channels := []models.Channel{}
	for rows.Next() {
		ch, err := scanPgChannel(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListChannels scan: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, total, rows.Err()
}

// ListGroups returns groups in position order with channel counts.
func (p *Postgres) ListGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := p.pool.Query(ctx,
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
func (p *Postgres) GetOrCreateGroup(ctx context.Context, name string) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO groups (name, position)
		 VALUES ($1, (SELECT COALESCE(MAX(position), 0) + 1 FROM groups))
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("GetOrCreateGroup: %w", err)
	}
	return id, nil
}

// GetOrCreateStream returns the stream id for url.
func (p *Postgres) GetOrCreateStream(ctx context.Context, name, url string) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO streams (name, url) VALUES ($1, $2)
		 ON CONFLICT (url) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		name, url,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("GetOrCreateStream: %w", err)
	}
	return id, nil
}

// ListStreams returns streams by id in the order given.
func (p *Postgres) ListStreams(ctx context.Context, ids []int64) ([]models.Stream, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, url FROM streams WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("ListStreams: %w", err)
	}
	defer rows.Close()
	byID := map[int64]models.Stream{}
	for rows.Next() {
		var s models.Stream
		if err := rows.Scan(&s.ID, &s.Name, &s.URL); err != nil {
			return nil, fmt.Errorf("ListStreams scan: %w", err)
		}
		byID[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListStreams: %w", err)
	}
	return orderStreams(ids, byID), nil
}

func orderStreams(ids []int64, byID map[int64]models.Stream) []models.Stream {
	out := make([]models.Stream, 0, len(ids))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Submit persists a diff in one transaction. Each item runs in its own
// savepoint so a failing item is rolled back alone. The channel number
// constraint is deferred while items run, so swaps and shifts may pass
// through duplicates, and checked once before COMMIT.
func (p *Postgres) Submit(ctx context.Context, items []commit.Item) ([]commit.Result, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("Submit begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SET CONSTRAINTS channels_number_unique DEFERRED`); err != nil {
		return nil, fmt.Errorf("Submit defer constraints: %w", err)
	}

	results := make([]commit.Result, len(items))
	for i, item := range items {
		sp, err := tx.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("Submit savepoint: %w", err)
		}
		entity, err := pgApply(ctx, sp, item)
		if err != nil {
			if rbErr := sp.Rollback(ctx); rbErr != nil {
				return nil, fmt.Errorf("Submit rollback %s: %w", item, rbErr)
			}
			log.Printf("store: %s rejected: %v", item, err)
			results[i] = commit.Failure(item, err)
			continue
		}
		if err := sp.Commit(ctx); err != nil {
			return nil, fmt.Errorf("Submit release %s: %w", item, err)
		}
		results[i] = commit.Success(item, entity)
	}

	if _, err := tx.Exec(ctx, `SET CONSTRAINTS channels_number_unique IMMEDIATE`); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("Submit: %w: %s", ErrDuplicateNumber, pgErr.Detail)
		}
		return nil, fmt.Errorf("Submit check constraints: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("Submit commit: %w", err)
	}
	return results, nil
}

func pgApply(ctx context.Context, q pgQuerier, item commit.Item) (*models.Channel, error) {
	switch item.Kind {
	case commit.KindCreate:
		ch := item.Fields.Channel
		if ch == nil {
			return nil, errors.New("create without channel")
		}
		var id int64
		err := q.QueryRow(ctx,
			`INSERT INTO channels (channel_number, name, image, group_id) VALUES ($1, $2, $3, $4) RETURNING id`,
			ch.Number, ch.Name, ch.Image, ch.GroupID,
		).Scan(&id)
		if err != nil {
			return nil, err
		}
		if err := pgSetStreams(ctx, q, id, ch.StreamIDs); err != nil {
			return nil, err
		}
		return pgGetChannel(ctx, q, id)

	case commit.KindUpdate:
		sets, args := updateSets(item.Fields.Update, func(n int) string { return fmt.Sprintf("$%d", n) })
		if len(sets) == 0 {
			return pgGetChannel(ctx, q, item.EntityID)
		}
		args = append(args, item.EntityID)
		tag, err := q.Exec(ctx, fmt.Sprintf(`UPDATE channels SET %s, updated_at = NOW() WHERE id = $%d`, strings.Join(sets, ", "), len(args)), args...)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("channel %d: %w", item.EntityID, ErrNotFound)
		}
		return pgGetChannel(ctx, q, item.EntityID)

	case commit.KindDelete:
		tag, err := q.Exec(ctx, `DELETE FROM channels WHERE id = $1`, item.EntityID)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("channel %d: %w", item.EntityID, ErrNotFound)
		}
		return nil, nil

	case commit.KindMoveGroup:
		tag, err := q.Exec(ctx, `UPDATE channels SET group_id = $1, updated_at = NOW() WHERE id = $2`, item.Fields.GroupID, item.EntityID)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("channel %d: %w", item.EntityID, ErrNotFound)
		}
		return pgGetChannel(ctx, q, item.EntityID)

	case commit.KindReorderStreams:
		if _, err := pgGetChannel(ctx, q, item.EntityID); err != nil {
			return nil, err
		}
		if err := pgSetStreams(ctx, q, item.EntityID, item.Fields.StreamIDs); err != nil {
			return nil, err
		}
		return pgGetChannel(ctx, q, item.EntityID)
	}
	return nil, fmt.Errorf("unknown item kind %q", item.Kind)
}

func pgSetStreams(ctx context.Context, q pgQuerier, channelID int64, streamIDs []int64) error {
	if _, err := q.Exec(ctx, `DELETE FROM channel_streams WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("clear streams: %w", err)
	}
	for pos, sid := range streamIDs {
		if _, err := q.Exec(ctx,
			`INSERT INTO channel_streams (channel_id, stream_id, position) VALUES ($1, $2, $3)`,
			channelID, sid, pos,
		); err != nil {
			return fmt.Errorf("set stream %d: %w", sid, err)
		}
	}
	return nil
}

// updateSets renders the SET clauses for a field update. placeholder maps the
// 1-based argument index to the driver's placeholder syntax.
func updateSets(u models.ChannelUpdate, placeholder func(int) string) ([]string, []any) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = "+placeholder(len(args)))
	}
	switch {
	case u.Number != nil:
		add("channel_number", *u.Number)
	case u.ClearNumber:
		sets = append(sets, "channel_number = NULL")
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Image != nil {
		add("image", *u.Image)
	}
	return sets, args
}
