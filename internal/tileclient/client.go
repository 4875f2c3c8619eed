// Package tileclient は地図ビュー1枚分のタイル取得オーケストレータを提供する。
// ビューポートの変化をデバウンスでまとめ、カバーするタイルを並列に取得し、
// 取得済みタイルのLRUキャッシュと在途リクエストの重複排除で
// タイルエンドポイントへの無駄な問い合わせを抑える。
package tileclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/roomsearch/internal/geo"
	"github.com/hitoshi/roomsearch/internal/model"
	"github.com/hitoshi/roomsearch/internal/query"
	"github.com/hitoshi/roomsearch/internal/tile"
)

const (
	// DefaultDebounceInterval はビューポート変化をまとめる待ち時間。
	DefaultDebounceInterval = 250 * time.Millisecond
	// DefaultRetryAfterWait はRetry-Afterヘッダがない429応答の再試行待ち時間。
	DefaultRetryAfterWait = 2000 * time.Millisecond
	// DefaultPadFraction はタイル分割前にビューポートへ加える余白の割合。
	DefaultPadFraction = 0.20
	// MaxMarkers は統合後に描画対象とする掲載数の上限。
	// タイルを何枚統合してもマーカー総数はこれを超えない。
	MaxMarkers = 200
)

// errRateLimited はタイルエンドポイントの429応答を表す内部エラー。
var errRateLimited = errors.New("タイルエンドポイントがレート制限中")

// inflight は取得中のタイル1枚を表す。doneのクローズで結果が確定する。
type inflight struct {
	done chan struct{}
	resp *model.MapResponse
	err  error
}

// Client は1つの地図ビューに対するタイル取得のオーケストレータ。
// すべての状態は内部ミューテックスで保護され、所有者は1つの地図ビューに限る。
// コールバックはロックの外で呼び出される。
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger

	// DebounceInterval はSetViewport呼び出しをまとめる待ち時間（デフォルト: 250ms）。
	DebounceInterval time.Duration
	// PadFraction はタイル分割前の余白の割合（デフォルト: 0.20）。
	PadFraction float64

	// OnUpdate は統合済みのマーカー集合が確定するたびに呼ばれる描画コールバック。
	OnUpdate func(listings []model.MapListing)
	// OnError は再試行しても回復しなかったフェッチ失敗で呼ばれる。
	OnError func(err error)

	mu             sync.Mutex
	cache          *Cache
	inFlight       map[string]*inflight
	filterKey      string
	generation     int
	cancel         context.CancelFunc
	debounce       *time.Timer
	pendingBounds  model.ViewportBounds
	pendingFilters model.FilterParams
	closed         bool
}

// NewClient は新しいタイル取得クライアントを生成する。
// httpClientがnilの場合はタイムアウト付きのデフォルトクライアントを使う。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		httpClient:       httpClient,
		baseURL:          strings.TrimRight(baseURL, "/"),
		logger:           logger,
		DebounceInterval: DefaultDebounceInterval,
		PadFraction:      DefaultPadFraction,
		cache:            NewCache(DefaultCacheSize),
		inFlight:         make(map[string]*inflight),
	}
}

// SetViewport は表示範囲と検索条件の変化を通知する。
// 呼び出しはデバウンスされ、DebounceInterval内の連続呼び出しは
// 最後の1回分のフェッチにまとめられる。検索条件が変わった場合は
// キャッシュ全体を無効化する。
func (c *Client) SetViewport(bounds model.ViewportBounds, filters model.FilterParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	fk := query.GenerateFilterKey(filters)
	if fk != c.filterKey {
		// 条件が変わったら手持ちのタイルはすべて古い
		c.cache.Invalidate()
		c.filterKey = fk
	}

	c.pendingBounds = bounds
	c.pendingFilters = filters

	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(c.DebounceInterval, c.flush)
}

// Close はデバウンスタイマーを止め、在途のフェッチを中断する。
// 以降のSetViewportは無視される。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.debounce != nil {
		c.debounce.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
}

// flush はデバウンス満了時に呼ばれ、最新のビューポートに対する
// フェッチバッチを開始する。前の世代の取得はここで打ち切られる。
func (c *Client) flush() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.generation++
	gen := c.generation

	padded := geo.PadBounds(c.pendingBounds, c.PadFraction)
	zoom := tile.ZoomForBounds(padded)
	keys := tile.Cover(padded, zoom)
	filters := c.pendingFilters
	c.mu.Unlock()

	go c.fetchBatch(ctx, gen, keys, filters)
}

// fetchBatch はカバーするタイルを並列に取得して統合する。
// 処理中に新しいビューポートへ追い越された世代の結果は捨てる。
func (c *Client) fetchBatch(ctx context.Context, gen int, keys []tile.Key, filters model.FilterParams) {
	results := make([]*model.MapResponse, len(keys))
	errs := make([]error, len(keys))

	var wg sync.WaitGroup
	for i, k := range keys {
		wg.Add(1)
		go func(i int, k tile.Key) {
			defer wg.Done()
			results[i], errs[i] = c.fetchTile(ctx, k, filters)
		}(i, k)
	}
	wg.Wait()

	c.mu.Lock()
	stale := c.closed || gen != c.generation
	onUpdate := c.OnUpdate
	onError := c.OnError
	c.mu.Unlock()
	if stale {
		return
	}

	var firstErr error
	for i, err := range errs {
		if err == nil || errors.Is(err, context.Canceled) {
			continue
		}
		c.logger.Error("タイルの取得に失敗しました",
			slog.String("tile", keys[i].String()),
			slog.String("error", err.Error()),
		)
		if firstErr == nil {
			firstErr = err
		}
	}

	// 一部のタイルが失敗しても取得できた分は描画する
	if onUpdate != nil {
		onUpdate(mergeListings(results))
	}
	if firstErr != nil && onError != nil {
		onError(firstErr)
	}
}

// fetchTile はタイル1枚をキャッシュ・在途リクエスト・HTTPの順で解決する。
// 同じタイルの取得が在途ならその完了を待って結果を共有する。
// 在途の取得が世代交代で中断された場合は自分のコンテキストで取り直す。
func (c *Client) fetchTile(ctx context.Context, key tile.Key, filters model.FilterParams) (*model.MapResponse, error) {
	ck := key.String()
	for {
		if resp, ok := c.cache.Get(ck); ok {
			return resp, nil
		}

		c.mu.Lock()
		if fl, ok := c.inFlight[ck]; ok {
			c.mu.Unlock()
			select {
			case <-fl.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if fl.err == nil {
				return fl.resp, nil
			}
			if errors.Is(fl.err, context.Canceled) {
				continue
			}
			return nil, fl.err
		}
		fl := &inflight{done: make(chan struct{})}
		c.inFlight[ck] = fl
		c.mu.Unlock()

		resp, err := c.doFetch(ctx, key, filters)
		fl.resp, fl.err = resp, err
		c.mu.Lock()
		delete(c.inFlight, ck)
		c.mu.Unlock()
		close(fl.done)

		if err != nil {
			return nil, err
		}
		c.cache.Put(ck, resp)
		return resp, nil
	}
}

// doFetch はタイルを取得する。429の場合はRetry-Afterを待って一度だけ
// 再試行し、それでも429ならエラーを確定させる。他のステータスは再試行しない。
func (c *Client) doFetch(ctx context.Context, key tile.Key, filters model.FilterParams) (*model.MapResponse, error) {
	resp, retryAfter, err := c.getOnce(ctx, key, filters)
	if !errors.Is(err, errRateLimited) {
		return resp, err
	}

	timer := time.NewTimer(retryAfter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	resp, _, err = c.getOnce(ctx, key, filters)
	if errors.Is(err, errRateLimited) {
		return nil, model.NewTileFetchError(http.StatusTooManyRequests)
	}
	return resp, err
}

// getOnce はタイルエンドポイントへのHTTPリクエストを1回行う。
// 429のときはRetry-Afterから算出した待ち時間とerrRateLimitedを返す。
func (c *Client) getOnce(ctx context.Context, key tile.Key, filters model.FilterParams) (*model.MapResponse, time.Duration, error) {
	u := fmt.Sprintf("%s/api/tiles/%d/%d/%d", c.baseURL, key.Zoom, key.X, key.Y)
	if q := encodeFilterQuery(filters); q != "" {
		u += "?" + q
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("タイルリクエストの生成に失敗: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("タイルの取得に失敗: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		var mr model.MapResponse
		if err := json.NewDecoder(res.Body).Decode(&mr); err != nil {
			return nil, 0, fmt.Errorf("タイルレスポンスの解析に失敗: %w", err)
		}
		return &mr, 0, nil
	case http.StatusTooManyRequests:
		return nil, parseRetryAfter(res.Header.Get("Retry-After"), time.Now()), errRateLimited
	default:
		return nil, 0, model.NewTileFetchError(res.StatusCode)
	}
}

// parseRetryAfter はRetry-Afterヘッダを待ち時間に変換する。
// 秒数形式とHTTP日付形式の両方を受け付け、どちらでもない場合や
// ヘッダがない場合はDefaultRetryAfterWaitを返す。
func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return DefaultRetryAfterWait
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return DefaultRetryAfterWait
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return DefaultRetryAfterWait
}

// mergeListings はタイルごとのレスポンスを1つのマーカー集合へ統合する。
// タイル境界で重複する掲載はIDで重複排除し、総数はMaxMarkersで打ち切る。
func mergeListings(results []*model.MapResponse) []model.MapListing {
	merged := make([]model.MapListing, 0)
	seen := make(map[string]bool)
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, l := range r.Listings {
			if seen[l.ID] {
				continue
			}
			seen[l.ID] = true
			merged = append(merged, l)
			if len(merged) >= MaxMarkers {
				return merged
			}
		}
	}
	return merged
}

// encodeFilterQuery は検索条件をタイルエンドポイントのクエリ文字列へ変換する。
// 表示範囲はタイルパスで決まるため、範囲系のパラメータは含めない。
func encodeFilterQuery(p model.FilterParams) string {
	values := url.Values{}
	if p.Query != "" {
		values.Set("q", p.Query)
	}
	if p.MinPrice != nil {
		values.Set("min_price", strconv.Itoa(*p.MinPrice))
	}
	if p.MaxPrice != nil {
		values.Set("max_price", strconv.Itoa(*p.MaxPrice))
	}
	if p.RoomType != "" {
		values.Set("room_type", string(p.RoomType))
	}
	if p.LeaseMonths != nil {
		values.Set("lease_months", strconv.Itoa(*p.LeaseMonths))
	}
	if p.MoveInDate != nil {
		values.Set("move_in_date", p.MoveInDate.Format("2006-01-02"))
	}
	if len(p.Amenities) > 0 {
		values.Set("amenities", strings.Join(p.Amenities, ","))
	}
	if len(p.HouseRules) > 0 {
		values.Set("house_rules", strings.Join(p.HouseRules, ","))
	}
	if len(p.Languages) > 0 {
		values.Set("languages", strings.Join(p.Languages, ","))
	}
	if p.GenderPreference != "" {
		values.Set("gender", string(p.GenderPreference))
	}
	return values.Encode()
}
