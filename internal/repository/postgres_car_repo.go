package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/Nassermhasser/wheelhaven/internal/model"
)

// PostgresCarRepo はPostgreSQLを使用した車両カタログリポジトリ。
type PostgresCarRepo struct {
	db *sql.DB
}

// NewPostgresCarRepo はPostgresCarRepoを生成する。
func NewPostgresCarRepo(db *sql.DB) *PostgresCarRepo {
	return &PostgresCarRepo{db: db}
}

const carSelect = `SELECT id, brand, name, price_per_day_cents, capacity, fuel_type, transmission,
		image_url, featured, available, created_at
	FROM cars`

func scanCar(row interface{ Scan(...any) error }) (*model.Car, error) {
	c := &model.Car{}
	err := row.Scan(&c.ID, &c.Brand, &c.Name, &c.PricePerDayCents, &c.Capacity, &c.FuelType,
		&c.Transmission, &c.ImageURL, &c.Featured, &c.Available, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindByID は指定IDの車両を取得する。見つからない場合はnilを返す。
func (r *PostgresCarRepo) FindByID(ctx context.Context, id string) (*model.Car, error) {
	if !validID(id) {
		return nil, nil
	}

	c, err := scanCar(r.db.QueryRowContext(ctx, carSelect+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find car: %w", err)
	}
	return c, nil
}

// List はフィルタ条件に一致する車両を返す。
// 条件のゼロ値は「指定なし」として扱い、SQLは固定文のままパラメータで切り替える。
func (r *PostgresCarRepo) List(ctx context.Context, filter model.CarFilter) ([]*model.Car, error) {
	brands := filter.Brands
	if brands == nil {
		brands = []string{}
	}

	rows, err := r.db.QueryContext(ctx,
		carSelect+`
		 WHERE ($1::bigint = 0 OR price_per_day_cents >= $1::bigint)
		   AND ($2::bigint = 0 OR price_per_day_cents <= $2::bigint)
		   AND (cardinality($3::text[]) = 0 OR brand = ANY($3))
		   AND ($4::text = '' OR lower(transmission) = lower($4))
		   AND ($5::text = '' OR lower(fuel_type) = lower($5))
		   AND (NOT $6::boolean OR featured)
		   AND ($7::text = '' OR (brand || ' ' || name) ILIKE '%' || $7 || '%' ESCAPE '\')
		 ORDER BY featured DESC, brand ASC, name ASC`,
		filter.MinPriceCents,
		filter.MaxPriceCents,
		pq.Array(brands),
		filter.Transmission,
		filter.FuelType,
		filter.FeaturedOnly,
		escapeLike(filter.Search),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cars: %w", err)
	}
	defer rows.Close()

	var cars []*model.Car
	for rows.Next() {
		c, err := scanCar(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan car: %w", err)
		}
		cars = append(cars, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cars: %w", err)
	}
	return cars, nil
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(strings.TrimSpace(s))
}

// compile-time interface check
var _ CarRepository = (*PostgresCarRepo)(nil)
