package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/roomsearch/internal/model"
	"github.com/hitoshi/roomsearch/internal/query"
)

// PostgresSearchDocumentRepo はPostgreSQLを使用した検索ドキュメントリポジトリ。
// 読み取り系は1文ごとにstatement_timeoutを設定したトランザクション内で実行し、
// 高コストなクエリをデータベース側で打ち切る。
type PostgresSearchDocumentRepo struct {
	db *sql.DB
}

// NewPostgresSearchDocumentRepo はPostgresSearchDocumentRepoを生成する。
func NewPostgresSearchDocumentRepo(db *sql.DB) *PostgresSearchDocumentRepo {
	return &PostgresSearchDocumentRepo{db: db}
}

// CountLimited は条件に合致する件数をプローブ上限まで数える。
func (r *PostgresSearchDocumentRepo) CountLimited(ctx context.Context, p model.FilterParams) (int, error) {
	q, args := query.BuildCountQuery(p)
	if q == "" {
		return 0, nil
	}

	var count int
	err := r.withStatementTimeout(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, q, args...).Scan(&count)
	})
	if err != nil {
		return 0, classifyQueryError("件数の取得", err)
	}
	return count, nil
}

// List は条件に合致する物件を1ページ分+先読み1行取得する。
func (r *PostgresSearchDocumentRepo) List(ctx context.Context, p model.FilterParams, page, limit int) ([]model.SearchDocument, error) {
	q, args, err := query.BuildListQuery(p, page, limit)
	if err != nil {
		return nil, err
	}
	return r.queryDocuments(ctx, "物件一覧の取得", q, args)
}

// ListRelaxed は集合条件を外した緩和検索でexcludeIDs以外の物件を取得する。
func (r *PostgresSearchDocumentRepo) ListRelaxed(ctx context.Context, p model.FilterParams, excludeIDs []string, limit int) ([]model.SearchDocument, error) {
	q, args, err := query.BuildRelaxedListQuery(p, excludeIDs, limit)
	if err != nil {
		return nil, err
	}
	return r.queryDocuments(ctx, "緩和検索の実行", q, args)
}

// MapListings は表示範囲内の地図用物件を取得する。
func (r *PostgresSearchDocumentRepo) MapListings(ctx context.Context, p model.FilterParams) ([]model.MapListing, bool, error) {
	q, args, err := query.BuildMapQuery(p)
	if err != nil {
		return nil, false, err
	}

	var listings []model.MapListing
	err = r.withStatementTimeout(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var l model.MapListing
			if err := rows.Scan(
				&l.ID, &l.Lat, &l.Lng, &l.PricePerMonth, &l.RoomType,
				&l.Title, &l.RecommendScore, &l.ListingCreatedAt,
			); err != nil {
				return err
			}
			listings = append(listings, l)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, false, classifyQueryError("地図用物件の取得", err)
	}

	truncated := false
	if len(listings) > query.MaxMapResults {
		listings = listings[:query.MaxMapResults]
		truncated = true
	}
	return listings, truncated, nil
}

// Upsert は検索ドキュメントを行全体の置き換えでUPSERTする。
// search_vectorは生成列のため挿入対象に含めない。
func (r *PostgresSearchDocumentRepo) Upsert(ctx context.Context, doc *model.SearchDocument) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO search_documents (
		    id, owner_id, title, description_text, price_per_month, room_type,
		    lease_months, move_in_date, amenities, house_rules, languages, gender_preference,
		    lat, lng, address_city, address_prefecture, images, total_slots,
		    view_count, review_count, review_score, recommend_score, listing_created_at, refreshed_at
		 ) VALUES (
		    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		    $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		 )
		 ON CONFLICT (id) DO UPDATE SET
		    owner_id = EXCLUDED.owner_id,
		    title = EXCLUDED.title,
		    description_text = EXCLUDED.description_text,
		    price_per_month = EXCLUDED.price_per_month,
		    room_type = EXCLUDED.room_type,
		    lease_months = EXCLUDED.lease_months,
		    move_in_date = EXCLUDED.move_in_date,
		    amenities = EXCLUDED.amenities,
		    house_rules = EXCLUDED.house_rules,
		    languages = EXCLUDED.languages,
		    gender_preference = EXCLUDED.gender_preference,
		    lat = EXCLUDED.lat,
		    lng = EXCLUDED.lng,
		    address_city = EXCLUDED.address_city,
		    address_prefecture = EXCLUDED.address_prefecture,
		    images = EXCLUDED.images,
		    total_slots = EXCLUDED.total_slots,
		    view_count = EXCLUDED.view_count,
		    review_count = EXCLUDED.review_count,
		    review_score = EXCLUDED.review_score,
		    recommend_score = EXCLUDED.recommend_score,
		    listing_created_at = EXCLUDED.listing_created_at,
		    refreshed_at = EXCLUDED.refreshed_at`,
		doc.ID, doc.OwnerID, doc.Title, doc.DescriptionText, doc.PricePerMonth, string(doc.RoomType),
		doc.LeaseMonths, doc.MoveInDate, pq.Array(doc.Amenities), pq.Array(doc.HouseRules),
		pq.Array(doc.Languages), string(doc.GenderPreference),
		doc.Lat, doc.Lng, doc.AddressCity, doc.AddressPrefecture, pq.Array(doc.Images), doc.TotalSlots,
		doc.ViewCount, doc.ReviewCount, doc.ReviewScore, doc.RecommendScore, doc.ListingCreatedAt, doc.RefreshedAt,
	)
	if err != nil {
		return fmt.Errorf("検索ドキュメントのUPSERTに失敗しました: %w", err)
	}
	return nil
}

// DeleteByID は指定IDの検索ドキュメントを削除する。
func (r *PostgresSearchDocumentRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM search_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("検索ドキュメントの削除に失敗しました: %w", err)
	}
	return nil
}

// DeleteOrphans は公開中の物件が存在しない検索ドキュメントを削除する。
func (r *PostgresSearchDocumentRepo) DeleteOrphans(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM search_documents
		 WHERE NOT EXISTS (
		    SELECT 1 FROM listings
		    WHERE listings.id = search_documents.id AND listings.status = 'active'
		 )`)
	if err != nil {
		return 0, fmt.Errorf("孤立ドキュメントの削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除行数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

// queryDocuments は一覧系SQLを実行してSearchDocumentへスキャンする。
func (r *PostgresSearchDocumentRepo) queryDocuments(ctx context.Context, operation, q string, args []interface{}) ([]model.SearchDocument, error) {
	var docs []model.SearchDocument
	err := r.withStatementTimeout(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			doc, err := scanSearchDocument(rows)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, classifyQueryError(operation, err)
	}
	return docs, nil
}

// withStatementTimeout は読み取り専用トランザクションを開始し、
// statement_timeoutを設定してfnを実行する。SET LOCALの効果は
// トランザクション終了で消えるため、接続プールの他の利用者には影響しない。
func (r *PostgresSearchDocumentRepo) withStatementTimeout(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("SET LOCAL statement_timeout = %d", query.StatementTimeoutMillis)); err != nil {
		return fmt.Errorf("statement_timeoutの設定に失敗しました: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// scanSearchDocument は1行をSearchDocumentへスキャンする。
func scanSearchDocument(rows *sql.Rows) (model.SearchDocument, error) {
	var doc model.SearchDocument
	var moveInDate sql.NullTime

	err := rows.Scan(
		&doc.ID, &doc.OwnerID, &doc.Title, &doc.DescriptionText, &doc.PricePerMonth, &doc.RoomType,
		&doc.LeaseMonths, &moveInDate, pq.Array(&doc.Amenities), pq.Array(&doc.HouseRules),
		pq.Array(&doc.Languages), &doc.GenderPreference,
		&doc.Lat, &doc.Lng, &doc.AddressCity, &doc.AddressPrefecture, pq.Array(&doc.Images), &doc.TotalSlots,
		&doc.ViewCount, &doc.ReviewCount, &doc.ReviewScore, &doc.RecommendScore, &doc.ListingCreatedAt, &doc.RefreshedAt,
	)
	if err != nil {
		return model.SearchDocument{}, err
	}
	if moveInDate.Valid {
		doc.MoveInDate = &moveInDate.Time
	}
	return doc, nil
}

// classifyQueryError はクエリ実行エラーを分類する。
// statement_timeoutによる打ち切り（query_canceled, 57014）と
// コンテキスト期限切れはタイムアウトエラーへ変換し、それ以外は
// 文脈を付けて包む。
func classifyQueryError(operation string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "57014" {
		return model.NewSearchTimeoutError()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewSearchTimeoutError()
	}
	return fmt.Errorf("%sに失敗しました: %w", operation, err)
}

var _ SearchDocumentRepository = (*PostgresSearchDocumentRepo)(nil)
