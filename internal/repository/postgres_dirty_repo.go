package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/roomsearch/internal/model"
)

// PostgresDirtyMarkerRepo はPostgreSQLを使用したダーティマーカーリポジトリ。
type PostgresDirtyMarkerRepo struct {
	db *sql.DB
}

// NewPostgresDirtyMarkerRepo はPostgresDirtyMarkerRepoを生成する。
func NewPostgresDirtyMarkerRepo(db *sql.DB) *PostgresDirtyMarkerRepo {
	return &PostgresDirtyMarkerRepo{db: db}
}

// InsertBatch は複数のマーカーを1文で追記する。
func (r *PostgresDirtyMarkerRepo) InsertBatch(ctx context.Context, markers []model.DirtyMarker) error {
	if len(markers) == 0 {
		return nil
	}

	values := make([]string, 0, len(markers))
	args := make([]interface{}, 0, len(markers)*4)
	for i, m := range markers {
		base := i * 4
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4))
		args = append(args, m.ID, m.ListingID, string(m.Reason), m.MarkedAt)
	}

	q := "INSERT INTO search_dirty_markers (id, listing_id, reason, marked_at) VALUES " +
		strings.Join(values, ", ")
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("ダーティマーカーの追記に失敗しました: %w", err)
	}
	return nil
}

// ListOldest はマーク時刻の古い順にマーカーをFOR UPDATE SKIP LOCKEDで取得する。
// 同時に走るスキャン同士が同じマーカーを掴む窓を狭める。重複して取得しても
// ドキュメント側のUPSERTは冪等なので結果は壊れない。
func (r *PostgresDirtyMarkerRepo) ListOldest(ctx context.Context, limit int) ([]model.DirtyMarker, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, listing_id, reason, marked_at
		 FROM search_dirty_markers
		 ORDER BY marked_at ASC, id ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("ダーティマーカーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var markers []model.DirtyMarker
	for rows.Next() {
		var m model.DirtyMarker
		if err := rows.Scan(&m.ID, &m.ListingID, &m.Reason, &m.MarkedAt); err != nil {
			return nil, fmt.Errorf("ダーティマーカーのスキャンに失敗しました: %w", err)
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ダーティマーカーの読み取りに失敗しました: %w", err)
	}
	return markers, nil
}

// DeleteByIDs は処理済みマーカーを削除する。
func (r *PostgresDirtyMarkerRepo) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM search_dirty_markers WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("ダーティマーカーの削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteOlderThan は指定時刻より古いマーカーを削除する。
func (r *PostgresDirtyMarkerRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM search_dirty_markers WHERE marked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("期限切れマーカーの削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除行数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

var _ DirtyMarkerRepository = (*PostgresDirtyMarkerRepo)(nil)
