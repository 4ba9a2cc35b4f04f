package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// UnknownCarName は予約に紐づく車両が削除済みの場合の表示名。
const UnknownCarName = "Unknown Car"

// dateLayout はDATE列との受け渡しに使う書式。
// time.Timeを直接渡すとセッションのタイムゾーンで日付が変わるため、文字列で渡す。
const dateLayout = "2006-01-02"

// PostgresBookingRepo はPostgreSQLを使用した予約リポジトリ。
type PostgresBookingRepo struct {
	db *sql.DB
}

// NewPostgresBookingRepo はPostgresBookingRepoを生成する。
func NewPostgresBookingRepo(db *sql.DB) *PostgresBookingRepo {
	return &PostgresBookingRepo{db: db}
}

const bookingSelect = `SELECT b.id, COALESCE(b.car_id::text, ''),
		COALESCE(c.brand || ' ' || c.name, '` + UnknownCarName + `'),
		b.renter_id, b.start_date, b.end_date, b.pickup_location, b.dropoff_location,
		b.pickup_time, b.dropoff_time, b.total_price_cents, b.status, b.created_at, b.updated_at
	FROM bookings b
	LEFT JOIN cars c ON c.id = b.car_id`

func scanBooking(row interface{ Scan(...any) error }) (*model.Booking, error) {
	b := &model.Booking{}
	var status string
	err := row.Scan(&b.ID, &b.CarID, &b.CarName, &b.RenterID, &b.StartDate, &b.EndDate,
		&b.PickupLocation, &b.DropoffLocation, &b.PickupTime, &b.DropoffTime,
		&b.TotalPriceCents, &status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	return b, nil
}

func (r *PostgresBookingRepo) queryBookings(ctx context.Context, query string, args ...any) ([]*model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

// Create は予約を作成する。
func (r *PostgresBookingRepo) Create(ctx context.Context, b *model.Booking) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bookings (id, car_id, renter_id, start_date, end_date, pickup_location, dropoff_location,
			pickup_time, dropoff_time, total_price_cents, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::date, $5::date, $6, $7, $8, $9, $10, $11, $12, $13)`,
		b.ID, b.CarID, b.RenterID,
		b.StartDate.Format(dateLayout), b.EndDate.Format(dateLayout),
		b.PickupLocation, b.DropoffLocation, b.PickupTime, b.DropoffTime,
		b.TotalPriceCents, string(b.Status), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// FindByID は指定IDの予約を取得する。見つからない場合はnilを返す。
func (r *PostgresBookingRepo) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	if !validID(id) {
		return nil, nil
	}

	b, err := scanBooking(r.db.QueryRowContext(ctx, bookingSelect+` WHERE b.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find booking: %w", err)
	}
	return b, nil
}

// ListAll は全予約を作成日時の降順で返す。
func (r *PostgresBookingRepo) ListAll(ctx context.Context) ([]*model.Booking, error) {
	return r.queryBookings(ctx, bookingSelect+` ORDER BY b.created_at DESC`)
}

// ListByRenter は指定利用者の予約を作成日時の降順で返す。
func (r *PostgresBookingRepo) ListByRenter(ctx context.Context, renterID string) ([]*model.Booking, error) {
	if !validID(renterID) {
		return nil, nil
	}
	return r.queryBookings(ctx, bookingSelect+` WHERE b.renter_id = $1 ORDER BY b.created_at DESC`, renterID)
}

// UpdateStatus は予約をFOR UPDATEでロックし、applyの結果と監査イベントを同一トランザクションで保存する。
func (r *PostgresBookingRepo) UpdateStatus(ctx context.Context, id string, apply StatusChangeFunc) (*model.Booking, error) {
	if !validID(id) {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. 対象行をロックして取得
	b, err := scanBooking(tx.QueryRowContext(ctx, bookingSelect+` WHERE b.id = $1 FOR UPDATE OF b`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}

	// 2. 変更内容の適用
	event, err := apply(b)
	if err != nil {
		return nil, err
	}

	// 3. ステータスの保存
	if _, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = $2, updated_at = $3 WHERE id = $1`,
		b.ID, string(b.Status), b.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to update booking status: %w", err)
	}

	// 4. 監査イベントの記録
	if event != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO booking_status_events (id, booking_id, from_status, to_status, actor_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			event.ID, event.BookingID, string(event.FromStatus), string(event.ToStatus), event.ActorID, event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to insert booking status event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return b, nil
}

// ListStatusEvents は予約のステータス変更履歴を古い順に返す。
func (r *PostgresBookingRepo) ListStatusEvents(ctx context.Context, bookingID string) ([]*model.BookingStatusEvent, error) {
	if !validID(bookingID) {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, booking_id, from_status, to_status, actor_id, created_at
		 FROM booking_status_events
		 WHERE booking_id = $1
		 ORDER BY created_at ASC, id ASC`,
		bookingID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list booking status events: %w", err)
	}
	defer rows.Close()

	var events []*model.BookingStatusEvent
	for rows.Next() {
		e := &model.BookingStatusEvent{}
		var from, to string
		if err := rows.Scan(&e.ID, &e.BookingID, &from, &to, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan booking status event: %w", err)
		}
		e.FromStatus = model.BookingStatus(from)
		e.ToStatus = model.BookingStatus(to)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate booking status events: %w", err)
	}
	return events, nil
}

// compile-time interface check
var _ BookingRepository = (*PostgresBookingRepo)(nil)
