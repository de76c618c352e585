package syncstats

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	activeSet = "rooms:active"
	occPrefix = "room:"
	occSuffix = ":occ"
)

// Every 10 s, sample live room occupancy into Postgres for the admin
// analytics dashboards.
func Run(ctx context.Context, rdc *redis.Client, db *sql.DB) {
	tk := time.NewTicker(10 * time.Second)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				syncOnce(ctx, rdc, db)
			}
		}
	}()
}

func syncOnce(ctx context.Context, rdc *redis.Client, db *sql.DB) {
	rooms, err := rdc.SMembers(ctx, activeSet).Result()
	if err != nil || len(rooms) == 0 {
		return
	}

	// 1. fetch all occupancy counts in one pipelined round-trip
	pipe := rdc.Pipeline()
	cmds := make([]*redis.IntCmd, len(rooms))
	for i, id := range rooms {
		cmds[i] = pipe.HLen(ctx, occPrefix+id+occSuffix)
	}

	if _, err = pipe.Exec(ctx); err != nil {
		zap.L().Error("syncstats.pipeline", zap.Error(err))
		return
	}

	// 2. bulk-insert the samples
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		zap.L().Error("syncstats.tx_begin", zap.Error(err))
		return
	}
	defer tx.Rollback()

	const ins = `INSERT INTO room_stats (room_id, occupancy, sampled_at)
	                  VALUES ($1, $2, now())`
	for i, cmd := range cmds {
		n, err := cmd.Result()
		if err != nil || n == 0 {
			continue // room emptied between SMEMBERS and HLEN
		}
		id := rooms[i]
		if _, err := tx.ExecContext(ctx, ins, id, n); err != nil {
			zap.L().Error("syncstats.insert", zap.String("room", id), zap.Error(err))
		}
	}

	if err = tx.Commit(); err != nil {
		zap.L().Debug("syncstats_error", zap.Error(err))
	}
}
