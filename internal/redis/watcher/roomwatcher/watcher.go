package roomwatcher

import (
	"context"
	"strings"

	"crowsignal/internal/services/roomaccess"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	occPrefix = "room:"
	occSuffix = ":occ"
)

// Run listens to key-expiry events for room occupancy keys and marks
// rooms nobody returned to as inactive. An empty room's occupancy key
// lingers with a TTL after the last leave; expiry means the linger ran
// out. Run must be started once at service boot.
func Run(ctx context.Context, rdb *redis.Client, svc roomaccess.IRoomAccessService) {
	_ = rdb.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err()
	ps := rdb.PSubscribe(ctx, "__keyevent@*__:expired")
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-ps.Channel():
			if !strings.HasPrefix(m.Payload, occPrefix) || !strings.HasSuffix(m.Payload, occSuffix) {
				continue
			}
			id := strings.TrimSuffix(strings.TrimPrefix(m.Payload, occPrefix), occSuffix)
			if err := svc.Deactivate(ctx, id); err != nil {
				zap.L().Warn("roomwatcher.deactivate", zap.String("room", id), zap.Error(err))
			}
		}
	}
}
