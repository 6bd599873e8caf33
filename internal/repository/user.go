package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/service"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
)

const userColumns = `
	id,
	name,
	email,
	phone,
	role,
	specialization,
	is_available,
	ST_Y(location::geometry) AS latitude,
	ST_X(location::geometry) AS longitude,
	updated_at`

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) service.UserRepository {
	return &UserRepository{db: db}
}

// scanUser читает пользователя; extra - дополнительные колонки после userColumns
func scanUser(row pgx.Row, extra ...any) (*models.User, error) {
	var (
		user     = &models.User{}
		lat, lon *float64
	)
	dest := []any{
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Phone,
		&user.Role,
		&user.Specialization,
		&user.IsAvailable,
		&lat,
		&lon,
		&user.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if lat != nil && lon != nil {
		user.Location = &models.Point{Latitude: *lat, Longitude: *lon}
	}
	return user, nil
}

func (r *UserRepository) queryUsers(ctx context.Context, op, query string, args ...any) ([]*models.User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeError(err, op)
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, op)
	}
	return users, nil
}

// GetByID возвращает пользователя по его UUID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1;`
	user, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user %s not found", id)
		}
		return nil, storeError(err, "get user by id")
	}
	return user, nil
}

// FindByIDs возвращает найденных пользователей; отсутствующие id пропускаются
func (r *UserRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.User, error) {
	if len(ids) == 0 {
		return []*models.User{}, nil
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1);`
	return r.queryUsers(ctx, "find users by ids", query, ids)
}

func (r *UserRepository) ListResponders(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = 'responder' ORDER BY name, id;`
	return r.queryUsers(ctx, "list responders", query)
}

func (r *UserRepository) ListAvailableResponders(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = 'responder' AND is_available ORDER BY name, id;`
	return r.queryUsers(ctx, "list available responders", query)
}

func (r *UserRepository) ListBySpecialization(ctx context.Context, spec models.Specialization) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE role = 'responder' AND specialization = $1
		ORDER BY name, id;
	`
	return r.queryUsers(ctx, "list responders by specialization", query, string(spec))
}

// Nearby находит доступных ответственных в радиусе точки, ближайшие первыми.
// При равном расстоянии порядок определяет id.
func (r *UserRepository) Nearby(ctx context.Context, q models.NearbyQuery) ([]models.Candidate, error) {
	exclude := q.Exclude
	if exclude == nil {
		// NULL в ANY отбросил бы все строки
		exclude = []uuid.UUID{}
	}
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}

	query := `
		SELECT ` + userColumns + `,
			ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) AS distance
		FROM users
		WHERE
			role = 'responder'
			AND is_available
			AND location IS NOT NULL
			AND ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
			AND ($4::text = '' OR specialization = $4::text)
			AND NOT (id = ANY($5))
		ORDER BY distance, id
		LIMIT $6;
	`
	rows, err := r.db.Query(ctx, query,
		q.Center.Longitude,
		q.Center.Latitude,
		q.RadiusMeters,
		string(q.Specialization),
		exclude,
		limit,
	)
	if err != nil {
		return nil, storeError(err, "find nearby responders")
	}
	defer rows.Close()

	candidates := make([]models.Candidate, 0)
	for rows.Next() {
		var distance float64
		user, err := scanUser(rows, &distance)
		if err != nil {
			return nil, fmt.Errorf("failed to scan nearby responder: %w", err)
		}
		candidates = append(candidates, models.Candidate{User: *user, DistanceMeters: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, "find nearby responders")
	}
	return candidates, nil
}

func (r *UserRepository) ListAdminIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users WHERE role = 'admin' ORDER BY id;`)
	if err != nil {
		return nil, storeError(err, "list admins")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, storeError(err, "list admins")
	}
	return ids, nil
}

// SetAvailability меняет доступность ответственного
func (r *UserRepository) SetAvailability(ctx context.Context, id uuid.UUID, available bool) (*models.User, error) {
	query := `
		UPDATE users SET
			is_available = $2,
			updated_at = NOW()
		WHERE id = $1 AND role = 'responder'
		RETURNING ` + userColumns + `;
	`
	user, err := scanUser(r.db.QueryRow(ctx, query, id, available))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("responder %s not found", id)
		}
		return nil, storeError(err, "set availability")
	}
	return user, nil
}

// SetLocation сохраняет последние координаты ответственного
func (r *UserRepository) SetLocation(ctx context.Context, id uuid.UUID, location models.Point) (*models.User, error) {
	query := `
		UPDATE users SET
			location = ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography,
			updated_at = NOW()
		WHERE id = $1 AND role = 'responder'
		RETURNING ` + userColumns + `;
	`
	user, err := scanUser(r.db.QueryRow(ctx, query, id, location.Longitude, location.Latitude))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("responder %s not found", id)
		}
		return nil, storeError(err, "set location")
	}
	return user, nil
}
