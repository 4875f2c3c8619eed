// Package model はドメインモデルを定義する。
package model

import "time"

// ListingStatus は物件の公開状態を表す。
type ListingStatus string

const (
	// ListingStatusActive は公開中。
	ListingStatusActive ListingStatus = "active"
	// ListingStatusPaused は掲載一時停止中。
	ListingStatusPaused ListingStatus = "paused"
	// ListingStatusClosed は掲載終了。
	ListingStatusClosed ListingStatus = "closed"
)

// Listing は物件の源泉データを表す。
// リフレッシュワーカーがSearchDocumentを再構築する際に読み取る。
// 物件自体のCRUDはこのサービスの管轄外で、ここでは読み取りのみ行う。
type Listing struct {
	ID                string
	OwnerID           string
	Title             string
	Description       string // 掲載者が入力したHTML
	PricePerMonth     int
	RoomType          RoomType
	LeaseMonths       int
	MoveInDate        *time.Time
	Amenities         []string
	HouseRules        []string
	Languages         []string
	GenderPreference  GenderPreference
	Lat               float64
	Lng               float64
	AddressCity       string
	AddressPrefecture string
	Images            []string
	TotalSlots        int
	ViewCount         int
	Status            ListingStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
