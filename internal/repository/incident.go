package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/service"
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
)

const incidentColumns = `
	id,
	type,
	severity,
	description,
	ST_Y(location::geometry) AS latitude,
	ST_X(location::geometry) AS longitude,
	address,
	reported_by,
	status,
	responders,
	responder_actions,
	updates,
	created_at,
	assigned_at,
	resolved_at,
	updated_at,
	version`

type IncidentRepository struct {
	db          *pgxpool.Pool
	redisClient *redis.Client
	cacheTTL    time.Duration
}

func NewIncidentRepository(db *pgxpool.Pool, redisClient *redis.Client, cacheTTL time.Duration) service.IncidentRepository {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &IncidentRepository{
		db:          db,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
	}
}

func scanIncident(row pgx.Row) (*models.Incident, error) {
	var (
		incident                 = &models.Incident{}
		actionsJSON, updatesJSON []byte
	)
	err := row.Scan(
		&incident.ID,
		&incident.Type,
		&incident.Severity,
		&incident.Description,
		&incident.Location.Latitude,
		&incident.Location.Longitude,
		&incident.Location.Address,
		&incident.ReportedBy,
		&incident.Status,
		&incident.Responders,
		&actionsJSON,
		&updatesJSON,
		&incident.CreatedAt,
		&incident.AssignedAt,
		&incident.ResolvedAt,
		&incident.UpdatedAt,
		&incident.Version,
	)
	if err != nil {
		return nil, err
	}

	incident.ResponderActions = models.ResponderActions{}
	if err := json.Unmarshal(actionsJSON, &incident.ResponderActions); err != nil {
		return nil, fmt.Errorf("failed to decode responder actions: %w", err)
	}
	incident.Updates = []models.Update{}
	if err := json.Unmarshal(updatesJSON, &incident.Updates); err != nil {
		return nil, fmt.Errorf("failed to decode incident updates: %w", err)
	}
	if incident.Responders == nil {
		incident.Responders = []uuid.UUID{}
	}
	return incident, nil
}

func collectIncidents(rows pgx.Rows) ([]*models.Incident, error) {
	defer rows.Close()
	incidents := make([]*models.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident row: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return incidents, nil
}

// encodeHistory сериализует решения ответственных и журнал для jsonb колонок
func encodeHistory(incident *models.Incident) (actions, updates []byte, err error) {
	ra := incident.ResponderActions
	if ra == nil {
		ra = models.ResponderActions{}
	}
	if actions, err = json.Marshal(ra); err != nil {
		return nil, nil, fmt.Errorf("failed to encode responder actions: %w", err)
	}
	up := incident.Updates
	if up == nil {
		up = []models.Update{}
	}
	if updates, err = json.Marshal(up); err != nil {
		return nil, nil, fmt.Errorf("failed to encode incident updates: %w", err)
	}
	return actions, updates, nil
}

func responderIDs(incident *models.Incident) []uuid.UUID {
	if incident.Responders == nil {
		return []uuid.UUID{}
	}
	return incident.Responders
}

// Create создает новую запись об инциденте в бд
func (r *IncidentRepository) Create(ctx context.Context, incident *models.Incident) error {
	actions, updates, err := encodeHistory(incident)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO incidents (
			id, type, severity, description, location, address, reported_by, status,
			responders, responder_actions, updates, created_at, assigned_at, resolved_at, updated_at, version
		)
		VALUES ($1, $2, $3, $4, ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17);
	`
	_, err = r.db.Exec(ctx, query,
		incident.ID,
		incident.Type,
		incident.Severity,
		incident.Description,
		incident.Location.Longitude,
		incident.Location.Latitude,
		incident.Location.Address,
		incident.ReportedBy,
		incident.Status,
		responderIDs(incident),
		actions,
		updates,
		incident.CreatedAt,
		incident.AssignedAt,
		incident.ResolvedAt,
		incident.UpdatedAt,
		incident.Version,
	)
	if err != nil {
		return storeError(err, "create incident")
	}
	return nil
}

// GetByID возвращает инцидент по его UUID
func (r *IncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1;`
	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("incident %s not found", id)
		}
		return nil, storeError(err, "get incident by id")
	}
	return incident, nil
}

// Update записывает инцидент при совпадении версии и увеличивает ее.
// Ноль затронутых строк означает либо отсутствие инцидента, либо конкурентную запись.
func (r *IncidentRepository) Update(ctx context.Context, incident *models.Incident) error {
	actions, updates, err := encodeHistory(incident)
	if err != nil {
		return err
	}
	query := `
		UPDATE incidents SET
			type = $1,
			severity = $2,
			description = $3,
			location = ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography,
			address = $6,
			status = $7,
			responders = $8,
			responder_actions = $9,
			updates = $10,
			assigned_at = $11,
			resolved_at = $12,
			updated_at = $13,
			version = version + 1
		WHERE id = $14 AND version = $15
		RETURNING version;
	`
	var version int64
	err = r.db.QueryRow(ctx, query,
		incident.Type,
		incident.Severity,
		incident.Description,
		incident.Location.Longitude,
		incident.Location.Latitude,
		incident.Location.Address,
		incident.Status,
		responderIDs(incident),
		actions,
		updates,
		incident.AssignedAt,
		incident.ResolvedAt,
		incident.UpdatedAt,
		incident.ID,
		incident.Version,
	).Scan(&version)
	if err == nil {
		incident.Version = version
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return storeError(err, "update incident")
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM incidents WHERE id = $1);`, incident.ID).Scan(&exists); err != nil {
		return storeError(err, "check incident existence")
	}
	if !exists {
		return apperror.NotFound("incident %s not found for update", incident.ID)
	}
	return apperror.Conflict("incident %s was modified concurrently", incident.ID)
}

// List возвращает страницу инцидентов и общее число совпадений
func (r *IncidentRepository) List(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, int, error) {
	where, orderBy, args := buildIncidentFilter(filter)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM incidents `+where, args...).Scan(&total); err != nil {
		return nil, 0, storeError(err, "count incidents")
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM incidents %s %s LIMIT $%d OFFSET $%d;`, incidentColumns, where, orderBy, n+1, n+2)
	rows, err := r.db.Query(ctx, query, append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return nil, 0, storeError(err, "list incidents")
	}
	incidents, err := collectIncidents(rows)
	if err != nil {
		return nil, 0, storeError(err, "list incidents")
	}
	return incidents, total, nil
}

// ListForResponder - назначенные на ответственного инциденты и инциденты его специализации
// в статусе assigned, без решенных и закрытых, новые первыми
func (r *IncidentRepository) ListForResponder(ctx context.Context, responderID uuid.UUID, spec models.Specialization) ([]*models.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE
			status NOT IN ('resolved', 'closed')
			AND (
				$1 = ANY(responders)
				OR ($2 <> '' AND type = $2 AND status = 'assigned')
			)
		ORDER BY created_at DESC, id DESC;
	`
	rows, err := r.db.Query(ctx, query, responderID, string(spec))
	if err != nil {
		return nil, storeError(err, "list responder incidents")
	}
	incidents, err := collectIncidents(rows)
	if err != nil {
		return nil, storeError(err, "list responder incidents")
	}
	return incidents, nil
}

// ListActiveForResponder - инциденты, на которых ответственный работает сейчас
func (r *IncidentRepository) ListActiveForResponder(ctx context.Context, responderID uuid.UUID) ([]*models.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE $1 = ANY(responders) AND status IN ('assigned', 'in_progress');
	`
	rows, err := r.db.Query(ctx, query, responderID)
	if err != nil {
		return nil, storeError(err, "list active incidents")
	}
	incidents, err := collectIncidents(rows)
	if err != nil {
		return nil, storeError(err, "list active incidents")
	}
	return incidents, nil
}

// ListStaleAssignments - инциденты в статусе assigned, назначенные раньше assignedBefore
func (r *IncidentRepository) ListStaleAssignments(ctx context.Context, assignedBefore time.Time) ([]*models.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE status = 'assigned' AND assigned_at < $1
		ORDER BY assigned_at;
	`
	rows, err := r.db.Query(ctx, query, assignedBefore)
	if err != nil {
		return nil, storeError(err, "list stale assignments")
	}
	incidents, err := collectIncidents(rows)
	if err != nil {
		return nil, storeError(err, "list stale assignments")
	}
	return incidents, nil
}

func incidentCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("incident:%s", id.String())
}

// GetIncidentFromCache пытается получить инцидент из Redis
func (r *IncidentRepository) GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	val, err := r.redisClient.Get(ctx, incidentCacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident from cache: %w", err)
	}

	incident := &models.Incident{}
	if err := json.Unmarshal(val, incident); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident from cache: %w", err)
	}
	return incident, nil
}

// setIfNewerScript пишет запись, только если в кэше нет более новой версии
var setIfNewerScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
	local ok, cached = pcall(cjson.decode, current)
	if ok and type(cached) == "table" and tonumber(cached.version) and tonumber(cached.version) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// SetIncidentCache сохраняет инцидент в Redis.
// Версия в кэше не уменьшается: запоздавшая запись старой копии игнорируется.
func (r *IncidentRepository) SetIncidentCache(ctx context.Context, incident *models.Incident) error {
	val, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident for cache: %w", err)
	}
	keys := []string{incidentCacheKey(incident.ID)}
	if err := setIfNewerScript.Run(ctx, r.redisClient, keys, val, incident.Version, r.cacheTTL.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to set incident in cache: %w", err)
	}
	return nil
}

// InvalidateIncidentCache удаляет инцидент из Redis кэша
func (r *IncidentRepository) InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error {
	if err := r.redisClient.Del(ctx, incidentCacheKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate incident cache: %w", err)
	}
	return nil
}
