// Package tariff resolves the monthly transport fee for a student from
// the route they ride. Students without a route assignment bill at the
// configured default.
package tariff

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Source looks up route tariffs in PostgreSQL.
type Source struct {
	pool       *pgxpool.Pool
	defaultFee float64
}

// NewSource constructs a Source. defaultFee applies when a student has
// no route or the route carries no fee.
func NewSource(pool *pgxpool.Pool, defaultFee float64) *Source {
	return &Source{pool: pool, defaultFee: defaultFee}
}

// BaseFeeFor returns the monthly fee for the student's route.
func (s *Source) BaseFeeFor(ctx context.Context, studentID int64) (float64, error) {
	var fee *float64
	err := s.pool.QueryRow(ctx, `
		SELECT r.monthly_fee
		FROM students st
		LEFT JOIN routes r ON r.id = st.route_id
		WHERE st.id = $1`, studentID).Scan(&fee)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errors.New("tariff: student not found")
	}
	if err != nil {
		return 0, err
	}
	if fee == nil || *fee <= 0 {
		return s.defaultFee, nil
	}
	return *fee, nil
}
