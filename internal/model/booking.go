package model

import "time"

// BookingStatus は予約の状態を表す。
type BookingStatus string

const (
	// BookingStatusPending は管理者の確認待ち。作成直後の状態。
	BookingStatusPending BookingStatus = "pending"
	// BookingStatusConfirmed は管理者が承認した状態。
	BookingStatusConfirmed BookingStatus = "confirmed"
	// BookingStatusCancelled は取り消された状態。
	BookingStatusCancelled BookingStatus = "cancelled"
	// BookingStatusCompleted は貸出が完了した状態。
	BookingStatusCompleted BookingStatus = "completed"
)

// BookingStatuses は既定の予約ステータスを表示順で返す。
func BookingStatuses() []BookingStatus {
	return []BookingStatus{
		BookingStatusPending,
		BookingStatusConfirmed,
		BookingStatusCancelled,
		BookingStatusCompleted,
	}
}

// Valid は既定の4値のいずれかであるかを返す。
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled, BookingStatusCompleted:
		return true
	}
	return false
}

// IsConventionalTransition は通常の業務フローに沿った遷移かどうかを返す。
// 表示やログのための判定であり、遷移そのものは制限しない。
func (s BookingStatus) IsConventionalTransition(to BookingStatus) bool {
	switch s {
	case BookingStatusPending:
		return to == BookingStatusConfirmed || to == BookingStatusCancelled
	case BookingStatusConfirmed:
		return to == BookingStatusCompleted || to == BookingStatusCancelled
	}
	return false
}

// Booking はレンタル予約を表す。
// RenterID と TotalPriceCents は作成時に一度だけ設定され、以後変更されない。
type Booking struct {
	ID              string
	CarID           string
	CarName         string // 一覧表示用（carsとの結合結果）
	RenterID        string
	StartDate       time.Time // 受取日（レンタル用タイムゾーンの0時）
	EndDate         time.Time // 返却日（同上）
	PickupLocation  string
	DropoffLocation string
	PickupTime      string
	DropoffTime     string
	TotalPriceCents int64
	Status          BookingStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BookingStatusEvent は予約ステータス変更の監査記録を表す。
type BookingStatusEvent struct {
	ID         string
	BookingID  string
	FromStatus BookingStatus
	ToStatus   BookingStatus
	ActorID    string
	CreatedAt  time.Time
}
