package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresListingSourceRepo はPostgreSQLを使用した物件源泉データリポジトリ。
type PostgresListingSourceRepo struct {
	db *sql.DB
}

// NewPostgresListingSourceRepo はPostgresListingSourceRepoを生成する。
func NewPostgresListingSourceRepo(db *sql.DB) *PostgresListingSourceRepo {
	return &PostgresListingSourceRepo{db: db}
}

// FindByIDs は指定IDの物件をレビュー集計付きで取得する。
// 存在しないIDは結果に含まれないため、呼び出し側は欠けたIDを
// 削除済み物件として扱える。
func (r *PostgresListingSourceRepo) FindByIDs(ctx context.Context, ids []string) ([]ListingWithReviewStats, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT l.id, l.owner_id, l.title, l.description, l.price_per_month, l.room_type,
		        l.lease_months, l.move_in_date, l.amenities, l.house_rules, l.languages,
		        l.gender_preference, l.lat, l.lng, l.address_city, l.address_prefecture,
		        l.images, l.total_slots, l.view_count, l.status, l.created_at, l.updated_at,
		        COUNT(rv.id) AS review_count,
		        COALESCE(AVG(rv.score), 0)::float8 AS review_score
		 FROM listings l
		 LEFT JOIN listing_reviews rv ON rv.listing_id = l.id
		 WHERE l.id = ANY($1)
		 GROUP BY l.id`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("物件の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var listings []ListingWithReviewStats
	for rows.Next() {
		var lw ListingWithReviewStats
		var moveInDate sql.NullTime
		if err := rows.Scan(
			&lw.ID, &lw.OwnerID, &lw.Title, &lw.Description, &lw.PricePerMonth, &lw.RoomType,
			&lw.LeaseMonths, &moveInDate, pq.Array(&lw.Amenities), pq.Array(&lw.HouseRules),
			pq.Array(&lw.Languages), &lw.GenderPreference, &lw.Lat, &lw.Lng,
			&lw.AddressCity, &lw.AddressPrefecture, pq.Array(&lw.Images), &lw.TotalSlots,
			&lw.ViewCount, &lw.Status, &lw.CreatedAt, &lw.UpdatedAt,
			&lw.ReviewCount, &lw.ReviewScore,
		); err != nil {
			return nil, fmt.Errorf("物件のスキャンに失敗しました: %w", err)
		}
		if moveInDate.Valid {
			lw.MoveInDate = &moveInDate.Time
		}
		listings = append(listings, lw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("物件の読み取りに失敗しました: %w", err)
	}
	return listings, nil
}

var _ ListingSourceRepository = (*PostgresListingSourceRepo)(nil)
