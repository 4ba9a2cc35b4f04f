package model

import "time"

// Car はカタログに掲載される車両を表す。
// 料金は最小通貨単位（セント）で保持する。
type Car struct {
	ID               string
	Brand            string
	Name             string
	PricePerDayCents int64
	Capacity         int
	FuelType         string
	Transmission     string
	ImageURL         string
	Featured         bool
	Available        bool
	CreatedAt        time.Time
}

// DisplayName は「ブランド 車名」形式の表示名を返す。
func (c *Car) DisplayName() string {
	if c.Brand == "" {
		return c.Name
	}
	return c.Brand + " " + c.Name
}

// CarFilter はカタログ検索条件を表す。ゼロ値の条件は適用しない。
type CarFilter struct {
	MinPriceCents int64
	MaxPriceCents int64
	Brands        []string
	Transmission  string
	FuelType      string
	FeaturedOnly  bool
	Search        string
}
