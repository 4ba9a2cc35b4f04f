// Package pricing はレンタル日数と料金の計算を提供する。
// 副作用を持たない純粋関数のみで構成する。
package pricing

import "time"

// day は料金計算上の1日の長さ。
const day = 24 * time.Hour

// RentalDays は受取日時から返却日時までのレンタル日数を返す。
// 差分を24時間単位で切り上げ、最低1日とする。
// 日時の前後が逆でも絶対値で計算する（順序の検証はavailabilityが担う）。
func RentalDays(pickupAt, dropoffAt time.Time) int {
	d := dropoffAt.Sub(pickupAt)
	if d < 0 {
		d = -d
	}

	days := int(d / day)
	if d%day != 0 {
		days++
	}
	if days < 1 {
		days = 1
	}
	return days
}

// TotalPrice はレンタル日数と1日あたりの料金（セント）から合計金額（セント）を返す。
// 負の料金は0として扱い、負の合計を返さない。
func TotalPrice(pickupAt, dropoffAt time.Time, pricePerDayCents int64) int64 {
	if pricePerDayCents < 0 {
		pricePerDayCents = 0
	}
	return int64(RentalDays(pickupAt, dropoffAt)) * pricePerDayCents
}

// Quote は見積もり結果を表す。
type Quote struct {
	RentalDays       int
	PricePerDayCents int64
	TotalPriceCents  int64
}

// NewQuote は期間と1日あたりの料金から見積もりを生成する。
func NewQuote(pickupAt, dropoffAt time.Time, pricePerDayCents int64) Quote {
	if pricePerDayCents < 0 {
		pricePerDayCents = 0
	}
	return Quote{
		RentalDays:       RentalDays(pickupAt, dropoffAt),
		PricePerDayCents: pricePerDayCents,
		TotalPriceCents:  TotalPrice(pickupAt, dropoffAt, pricePerDayCents),
	}
}
