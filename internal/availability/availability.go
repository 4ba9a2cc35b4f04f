// Package availability は予約日程と受取・返却場所の検証を提供する。
// 車両在庫や他の予約との重複は検証しない。
package availability

import (
	"fmt"
	"time"

	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// 日付・時刻の入力フォーマット
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Location は受取・返却場所を表す。
type Location struct {
	Slug string `json:"value"`
	Name string `json:"name"`
}

var locations = []Location{
	{Slug: "new-york-downtown", Name: "New York Downtown"},
	{Slug: "new-york-jfk", Name: "New York Airport (JFK)"},
	{Slug: "la-downtown", Name: "Los Angeles Downtown"},
	{Slug: "la-lax", Name: "Los Angeles Airport (LAX)"},
	{Slug: "chicago-downtown", Name: "Chicago Downtown"},
	{Slug: "chicago-ord", Name: "Chicago Airport (ORD)"},
	{Slug: "miami-beach", Name: "Miami Beach"},
	{Slug: "miami-mia", Name: "Miami Airport (MIA)"},
}

// timeSlots は08:00から19:30までの30分刻みの受取・返却時刻。
var timeSlots = buildTimeSlots(8, 20, 30*time.Minute)

func buildTimeSlots(fromHour, toHour int, step time.Duration) []string {
	base := time.Date(2000, 1, 1, fromHour, 0, 0, 0, time.UTC)
	end := time.Date(2000, 1, 1, toHour, 0, 0, 0, time.UTC)

	var slots []string
	for t := base; t.Before(end); t = t.Add(step) {
		slots = append(slots, t.Format(TimeLayout))
	}
	return slots
}

// Locations は選択可能な場所の一覧を返す。
func Locations() []Location {
	out := make([]Location, len(locations))
	copy(out, locations)
	return out
}

// TimeSlots は選択可能な時刻の一覧を返す。
func TimeSlots() []string {
	out := make([]string, len(timeSlots))
	copy(out, timeSlots)
	return out
}

// IsKnownLocation は場所のslugが既定の一覧に含まれるかを返す。
func IsKnownLocation(slug string) bool {
	for _, l := range locations {
		if l.Slug == slug {
			return true
		}
	}
	return false
}

// LocationName は場所のslugに対応する表示名を返す。未知のslugはそのまま返す。
func LocationName(slug string) string {
	for _, l := range locations {
		if l.Slug == slug {
			return l.Name
		}
	}
	return slug
}

// ValidateTimeSlot は時刻が既定の時間枠に含まれるかを検証する。
// 空文字は既定値として扱わず拒否する。
func ValidateTimeSlot(field, slot string) error {
	for _, s := range timeSlots {
		if s == slot {
			return nil
		}
	}
	return model.NewValidationError(fmt.Sprintf("%s must be one of the half-hour slots between %s and %s",
		field, timeSlots[0], timeSlots[len(timeSlots)-1]))
}

// ParseDate は"2006-01-02"形式の日付を指定したタイムゾーンの0時として解釈する。
func ParseDate(field, value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseInLocation(DateLayout, value, loc)
	if err != nil {
		return time.Time{}, model.NewValidationError(fmt.Sprintf("%s must be a date in YYYY-MM-DD format", field))
	}
	return d, nil
}

// At は日付（0時）と時刻枠を組み合わせ、日付のタイムゾーンでの日時を返す。
func At(date time.Time, slot string) (time.Time, error) {
	hm, err := time.Parse(TimeLayout, slot)
	if err != nil {
		return time.Time{}, model.NewValidationError(fmt.Sprintf("invalid time slot: %s", slot))
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, hm.Hour(), hm.Minute(), 0, 0, date.Location()), nil
}

// Selection は予約フォームで選択された日程・時刻と場所を表す。
// StartDate・EndDate は日付のみを意味し、受取・返却日時はPickupTime・DropoffTimeと組み合わせて求める。
type Selection struct {
	StartDate       time.Time
	EndDate         time.Time
	PickupTime      string
	DropoffTime     string
	PickupLocation  string
	DropoffLocation string
}

// ValidateSelection は予約の日程と場所を検証する。
// 受理する場合はnilを、拒否する場合は理由をメッセージに持つバリデーションエラーを返す。
// 受取日時と返却日時が同じ場合は受理する（1日分として課金される）。
func ValidateSelection(now time.Time, sel Selection) error {
	// 1. 日付の入力
	if sel.StartDate.IsZero() || sel.EndDate.IsZero() {
		return model.NewValidationError("please select pickup and drop-off dates")
	}

	// 2. 場所の入力
	if sel.PickupLocation == "" || sel.DropoffLocation == "" {
		return model.NewValidationError("please select pickup and drop-off locations")
	}

	// 3. 場所の妥当性
	if !IsKnownLocation(sel.PickupLocation) {
		return model.NewValidationError(fmt.Sprintf("unknown pickup location: %s", sel.PickupLocation))
	}
	if !IsKnownLocation(sel.DropoffLocation) {
		return model.NewValidationError(fmt.Sprintf("unknown drop-off location: %s", sel.DropoffLocation))
	}

	// 4. 時刻枠
	if err := ValidateTimeSlot("pickup time", sel.PickupTime); err != nil {
		return err
	}
	if err := ValidateTimeSlot("drop-off time", sel.DropoffTime); err != nil {
		return err
	}
	pickupAt, err := At(sel.StartDate, sel.PickupTime)
	if err != nil {
		return err
	}
	dropoffAt, err := At(sel.EndDate, sel.DropoffTime)
	if err != nil {
		return err
	}

	// 5. 過去の受取日時
	if pickupAt.Before(now) {
		return model.NewValidationError("pickup must not be in the past")
	}

	// 6. 返却日時の前後関係
	if dropoffAt.Before(pickupAt) {
		return model.NewValidationError("drop-off must not be before pickup")
	}

	return nil
}
