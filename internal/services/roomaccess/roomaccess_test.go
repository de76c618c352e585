package roomaccess

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedService(t *testing.T) (IRoomAccessService, sqlmock.Sqlmock, redismock.ClientMock) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rdb, rMock := redismock.NewClientMock()
	return NewRoomAccessService(rdb, db, 10, 300), dbMock, rMock
}

const roomQuery = `SELECT room_type, coalesce(password,''), is_active`

func TestAuthorizeResolvesIdentity(t *testing.T) {
	svc, dbMock, rMock := newMockedService(t)

	rMock.ExpectHGetAll("sess:t1").SetVal(map[string]string{"uid": "alice", "uname": "Alice"})
	dbMock.ExpectQuery(regexp.QuoteMeta(roomQuery)).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"room_type", "password", "is_active"}).
			AddRow("public", "", true))

	ident, err := svc.Authorize(context.Background(), "r1", "t1", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", ident.UserID)
	assert.Equal(t, "Alice", ident.Username)
	require.NoError(t, rMock.ExpectationsWereMet())
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestAuthorizeRejectsUnknownTicket(t *testing.T) {
	svc, _, rMock := newMockedService(t)

	rMock.ExpectHGetAll("sess:nope").SetVal(map[string]string{})

	_, err := svc.Authorize(context.Background(), "r1", "nope", "")
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestAuthorizeUnknownRoom(t *testing.T) {
	svc, dbMock, rMock := newMockedService(t)

	rMock.ExpectHGetAll("sess:t1").SetVal(map[string]string{"uid": "alice", "uname": "Alice"})
	dbMock.ExpectQuery(regexp.QuoteMeta(roomQuery)).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := svc.Authorize(context.Background(), "ghost", "t1", "")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestAuthorizeInactiveRoom(t *testing.T) {
	svc, dbMock, rMock := newMockedService(t)

	rMock.ExpectHGetAll("sess:t1").SetVal(map[string]string{"uid": "alice", "uname": "Alice"})
	dbMock.ExpectQuery(regexp.QuoteMeta(roomQuery)).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"room_type", "password", "is_active"}).
			AddRow("public", "", false))

	_, err := svc.Authorize(context.Background(), "r1", "t1", "")
	assert.ErrorIs(t, err, ErrRoomInactive)
}

func TestAuthorizePrivateRoomPassword(t *testing.T) {
	svc, dbMock, rMock := newMockedService(t)

	for _, tc := range []struct {
		name     string
		password string
		wantErr  error
	}{
		{"wrong password", "letmein", ErrBadPassword},
		{"correct password", "s3cret", nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rMock.ExpectHGetAll("sess:t1").SetVal(map[string]string{"uid": "alice", "uname": "Alice"})
			dbMock.ExpectQuery(regexp.QuoteMeta(roomQuery)).
				WithArgs("r1").
				WillReturnRows(sqlmock.NewRows([]string{"room_type", "password", "is_active"}).
					AddRow("private", "s3cret", true))

			_, err := svc.Authorize(context.Background(), "r1", "t1", tc.password)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJoinMapsRoomFull(t *testing.T) {
	svc, dbMock, rMock := newMockedService(t)

	dbMock.ExpectQuery(regexp.QuoteMeta(`SELECT max_participants FROM meeting_rooms WHERE id = $1`)).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"max_participants"}).AddRow(2))
	rMock.ExpectFCall("room_join", []string{"room:r1:occ", "rooms:active"},
		"r1", "h1", "alice", 2).
		SetErr(errors.New("room_full"))

	err := svc.Join(context.Background(), "r1", "h1", &Identity{UserID: "alice"})
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestJoinUsesDefaultCapWithoutRoomRow(t *testing.T) {
	svc, dbMock, rMock := newMockedService(t)

	dbMock.ExpectQuery(regexp.QuoteMeta(`SELECT max_participants FROM meeting_rooms WHERE id = $1`)).
		WithArgs("r1").
		WillReturnError(sql.ErrNoRows)
	rMock.ExpectFCall("room_join", []string{"room:r1:occ", "rooms:active"},
		"r1", "h1", "alice", 10).
		SetVal(int64(1))

	err := svc.Join(context.Background(), "r1", "h1", &Identity{UserID: "alice"})
	assert.NoError(t, err)
}

func TestLeaveReleasesSlot(t *testing.T) {
	svc, _, rMock := newMockedService(t)

	rMock.ExpectFCall("room_leave", []string{"room:r1:occ", "rooms:active"},
		"r1", "h1", 300).
		SetVal(int64(0))

	assert.NoError(t, svc.Leave(context.Background(), "r1", "h1"))
}

func TestGetRoom(t *testing.T) {
	svc, dbMock, _ := newMockedService(t)

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	dbMock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, host_id, room_type`)).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "host_id", "room_type", "max_participants", "is_active", "created_at"}).
			AddRow("r1", "Standup", "host1", "public", 10, true, created))

	dto, err := svc.GetRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "Standup", dto.Name)
	assert.Equal(t, 10, dto.MaxParticipants)
	assert.True(t, dto.IsActive)
}

func TestGetRoomNotFound(t *testing.T) {
	svc, dbMock, _ := newMockedService(t)

	dbMock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, host_id, room_type`)).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := svc.GetRoom(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestDeactivate(t *testing.T) {
	svc, dbMock, _ := newMockedService(t)

	dbMock.ExpectExec(regexp.QuoteMeta(`UPDATE meeting_rooms SET is_active = false WHERE id = $1`)).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, svc.Deactivate(context.Background(), "r1"))
	require.NoError(t, dbMock.ExpectationsWereMet())
}

func TestOccupancyHidesLingerSentinel(t *testing.T) {
	svc, _, rMock := newMockedService(t)

	rMock.ExpectHGetAll("room:r1:occ").SetVal(map[string]string{
		"h1": "alice", "h2": "bob", "__linger": "1",
	})

	occ, err := svc.Occupancy(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"h1": "alice", "h2": "bob"}, occ)
}
