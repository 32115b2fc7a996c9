package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"groupmilestones/internal/model"
)

const defaultMemberCacheSize = 1024

type memberKey struct {
	groupID int64
	name    string
}

// MemberRepository reads the group roster. The member table is owned by the
// ingest side; this service never writes it. Leaving a group sets left_at
// instead of deleting the row, so progress of former members is kept.
type MemberRepository struct {
	db     *pgxpool.Pool
	ids    *lru.Cache
	logger *zap.Logger
}

func NewMemberRepository(db *pgxpool.Pool, logger *zap.Logger) (*MemberRepository, error) {
	cache, err := lru.New(defaultMemberCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create member cache: %w", err)
	}
	return &MemberRepository{db: db, ids: cache, logger: logger}, nil
}

// ListCurrentMembers returns the ids of everyone in the group right now.
func (r *MemberRepository) ListCurrentMembers(ctx context.Context, groupID int64) ([]int64, error) {
	defer observe("select", "members", time.Now())

	rows, err := r.db.Query(ctx, `SELECT member_id FROM members WHERE group_id = $1 AND left_at IS NULL ORDER BY member_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return ids, nil
}

// ResolveMemberID maps a current member's name to its id within the group.
// Hits are served from an LRU; a renamed or departed member may still resolve
// until evicted, which only writes a record that completion ignores.
func (r *MemberRepository) ResolveMemberID(ctx context.Context, groupID int64, name string) (int64, error) {
	key := memberKey{groupID: groupID, name: name}
	if v, ok := r.ids.Get(key); ok {
		return v.(int64), nil
	}

	defer observe("select", "members", time.Now())

	var id int64
	err := r.db.QueryRow(ctx,
		`SELECT member_id FROM members WHERE group_id = $1 AND member_name = $2 AND left_at IS NULL`,
		groupID, name,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("member %q: %w", name, model.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve member: %w", err)
	}

	r.ids.Add(key, id)
	r.logger.Debug("Member id cached",
		zap.Int64("group_id", groupID),
		zap.String("member_name", name),
		zap.Int64("member_id", id),
	)
	return id, nil
}
