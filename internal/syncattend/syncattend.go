package syncattend

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run tails the attendance stream and persists every join/leave into
// room_attendance for the admin dashboards.
func Run(ctx context.Context, rdc *redis.Client, db *sql.DB) {
	go func() {
		lastID := "0-0"
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			// block up to 2 s for new entries
			res, err := rdc.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   100,
				Block:   2000 * time.Millisecond,
			}).Result()
			if err != nil && err != redis.Nil {
				zap.L().Warn("syncattend.xread", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			if len(res) == 0 {
				continue
			}
			entries := res[0].Messages
			if err := persist(ctx, db, entries); err != nil {
				zap.L().Warn("syncattend.persist", zap.Error(err))
			}
			lastID = entries[len(entries)-1].ID
		}
	}()
}

func persist(ctx context.Context, db *sql.DB, msgs []redis.XMessage) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	const insJoin = `INSERT INTO room_attendance (room_id, user_id, handle, joined_at)
	                 VALUES ($1, $2, $3, to_timestamp($4))
	                 ON CONFLICT (handle) DO NOTHING`
	const updLeave = `UPDATE room_attendance SET left_at = to_timestamp($1)
	                   WHERE handle = $2 AND left_at IS NULL`
	for _, m := range msgs {
		ev, _ := m.Values["ev"].(string)
		room, _ := m.Values["room"].(string)
		uid, _ := m.Values["uid"].(string)
		handle, _ := m.Values["handle"].(string)
		at, _ := m.Values["at"].(string)
		ts, _ := strconv.ParseInt(at, 10, 64)

		switch ev {
		case "join":
			if _, err := tx.ExecContext(ctx, insJoin, room, uid, handle, ts); err != nil {
				_ = tx.Rollback()
				return err
			}
		case "leave":
			if _, err := tx.ExecContext(ctx, updLeave, ts, handle); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}
