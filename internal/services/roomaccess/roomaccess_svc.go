package roomaccess

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoomDTO mirrors one meeting_rooms row.
type RoomDTO struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	HostID          string    `json:"host_id"`
	RoomType        string    `json:"room_type" example:"public"`
	MaxParticipants int       `json:"max_participants"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at" example:"2025-07-27T16:05:05Z"`
}

// Identity is what the session store knows about a connecting user.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

const (
	sessionKeyPrefix = "sess:"
	occKeyPrefix     = "room:"
	occKeySuffix     = ":occ"
	activeRoomsSet   = "rooms:active"
)

var (
	ErrSessionInvalid = errors.New("session invalid or expired")
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomInactive   = errors.New("room is not active")
	ErrBadPassword    = errors.New("wrong room password")
	ErrRoomFull       = errors.New("room full")
)

type IRoomAccessService interface {
	Authorize(ctx context.Context, roomID, ticket, password string) (*Identity, error)
	Join(ctx context.Context, roomID, handle string, ident *Identity) error
	Leave(ctx context.Context, roomID, handle string) error
	GetRoom(ctx context.Context, id string) (*RoomDTO, error)
	ListRooms(ctx context.Context, activeOnly bool, limit, offset int) ([]RoomDTO, error)
	CreateRoom(ctx context.Context, name, hostID, roomType, password string, maxParticipants int) (*RoomDTO, error)
	Deactivate(ctx context.Context, roomID string) error
	Occupancy(ctx context.Context, roomID string) (map[string]string, error)
}

type roomAccessService struct {
	rdc        *redis.Client
	db         *sql.DB
	defaultMax int
	lingerTTL  int // seconds an empty room's occupancy key survives
}

func NewRoomAccessService(rdc *redis.Client, db *sql.DB, defaultMax, lingerSeconds int) IRoomAccessService {
	return &roomAccessService{
		rdc:        rdc,
		db:         db,
		defaultMax: defaultMax,
		lingerTTL:  lingerSeconds,
	}
}

func occKey(roomID string) string { return occKeyPrefix + roomID + occKeySuffix }

// Authorize resolves the session ticket to a stable identity and runs
// the connect-time room checks: existence, active flag, private-room
// password. Capacity is enforced separately in Join so it can be atomic
// across instances.
func (svc *roomAccessService) Authorize(ctx context.Context, roomID, ticket, password string) (*Identity, error) {
	sess, err := svc.rdc.HGetAll(ctx, sessionKeyPrefix+ticket).Result()
	if err != nil {
		return nil, err
	}
	if len(sess) == 0 || sess["uid"] == "" {
		return nil, ErrSessionInvalid
	}
	ident := &Identity{UserID: sess["uid"], Username: sess["uname"]}

	var (
		roomType string
		roomPass string
		active   bool
	)
	const q = `SELECT room_type, coalesce(password,''), is_active
	             FROM meeting_rooms WHERE id = $1`
	err = svc.db.QueryRowContext(ctx, q, roomID).Scan(&roomType, &roomPass, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	if !active {
		return nil, ErrRoomInactive
	}
	if roomType == "private" && roomPass != "" && roomPass != password {
		return nil, ErrBadPassword
	}
	return ident, nil
}

// Join claims an occupancy slot. The Redis Function checks the cap and
// records the handle in one step, so two instances admitting at the
// same moment cannot oversubscribe the room.
func (svc *roomAccessService) Join(ctx context.Context, roomID, handle string, ident *Identity) error {
	max := svc.defaultMax
	var rowMax sql.NullInt64
	const q = `SELECT max_participants FROM meeting_rooms WHERE id = $1`
	if err := svc.db.QueryRowContext(ctx, q, roomID).Scan(&rowMax); err == nil && rowMax.Valid && rowMax.Int64 > 0 {
		max = int(rowMax.Int64)
	}

	err := svc.rdc.FCall(ctx, "room_join",
		[]string{occKey(roomID), activeRoomsSet},
		roomID,
		handle,
		ident.UserID,
		max,
	).Err()
	if err != nil {
		if strings.Contains(err.Error(), "room_full") {
			return ErrRoomFull
		}
		return err
	}
	return nil
}

// Leave releases the slot. On the last departure the occupancy key is
// left behind with a TTL; the expiry watcher deactivates rooms nobody
// comes back to.
func (svc *roomAccessService) Leave(ctx context.Context, roomID, handle string) error {
	return svc.rdc.FCall(ctx, "room_leave",
		[]string{occKey(roomID), activeRoomsSet},
		roomID,
		handle,
		svc.lingerTTL,
	).Err()
}

func (svc *roomAccessService) GetRoom(ctx context.Context, id string) (*RoomDTO, error) {
	const q = `SELECT id, name, host_id, room_type, coalesce(max_participants,0),
	                  is_active, created_at
	             FROM meeting_rooms WHERE id = $1`
	row := svc.db.QueryRowContext(ctx, q, id)
	dto := &RoomDTO{}
	if err := row.Scan(&dto.ID, &dto.Name, &dto.HostID, &dto.RoomType,
		&dto.MaxParticipants, &dto.IsActive, &dto.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return dto, nil
}

func (svc *roomAccessService) ListRooms(ctx context.Context, activeOnly bool,
	limit, offset int) ([]RoomDTO, error) {

	if limit == 0 {
		limit = 10
	}
	var (
		rows *sql.Rows
		err  error
	)
	base := `SELECT id, name, host_id, room_type, coalesce(max_participants,0),
	                is_active, created_at
	           FROM meeting_rooms`
	if activeOnly {
		base += " WHERE is_active"
	}
	rows, err = svc.db.QueryContext(ctx,
		base+" ORDER BY created_at DESC LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]RoomDTO, 0, limit)
	for rows.Next() {
		var r RoomDTO
		if err := rows.Scan(&r.ID, &r.Name, &r.HostID, &r.RoomType,
			&r.MaxParticipants, &r.IsActive, &r.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// CreateRoom upserts so that joining a previously reaped room brings it
// back with is_active set, matching the get-or-create behaviour of the
// web app.
func (svc *roomAccessService) CreateRoom(ctx context.Context, name, hostID,
	roomType, password string, maxParticipants int) (*RoomDTO, error) {

	if roomType == "" {
		roomType = "public"
	}
	if maxParticipants <= 0 {
		maxParticipants = svc.defaultMax
	}
	const upsert = `
	  INSERT INTO meeting_rooms (id, name, host_id, room_type, password,
	                             max_participants, is_active, created_at)
	       VALUES (gen_random_uuid(), $1, $2, $3, nullif($4,''), $5, true, now())
	  ON CONFLICT (name, host_id) DO UPDATE
	        SET is_active        = true,
	            room_type        = EXCLUDED.room_type,
	            password         = EXCLUDED.password,
	            max_participants = EXCLUDED.max_participants
	  RETURNING id, name, host_id, room_type, coalesce(max_participants,0),
	            is_active, created_at`

	row := svc.db.QueryRowContext(ctx, upsert, name, hostID, roomType, password, maxParticipants)
	dto := &RoomDTO{}
	if err := row.Scan(&dto.ID, &dto.Name, &dto.HostID, &dto.RoomType,
		&dto.MaxParticipants, &dto.IsActive, &dto.CreatedAt); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return dto, nil
}

func (svc *roomAccessService) Deactivate(ctx context.Context, roomID string) error {
	_, err := svc.db.ExecContext(ctx,
		`UPDATE meeting_rooms SET is_active = false WHERE id = $1`, roomID)
	return err
}

// Occupancy returns handle -> user id for everyone currently in the
// room, cluster-wide.
func (svc *roomAccessService) Occupancy(ctx context.Context, roomID string) (map[string]string, error) {
	occ, err := svc.rdc.HGetAll(ctx, occKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	delete(occ, "__linger")
	return occ, nil
}
