package syncattend

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const stream = "attendance_stream"

// Recorder appends join/leave transitions to the attendance stream.
// It is fire-and-forget: a write failure costs one history row, never a
// signaling connection.
type Recorder struct {
	rdc *redis.Client
}

func NewRecorder(rdc *redis.Client) *Recorder { return &Recorder{rdc: rdc} }

func (r *Recorder) Joined(ctx context.Context, roomID, userID, handle string) {
	r.append(ctx, "join", roomID, userID, handle)
}

func (r *Recorder) Left(ctx context.Context, roomID, userID, handle string) {
	r.append(ctx, "leave", roomID, userID, handle)
}

func (r *Recorder) append(ctx context.Context, ev, roomID, userID, handle string) {
	err := r.rdc.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"ev":     ev,
			"room":   roomID,
			"uid":    userID,
			"handle": handle,
			"at":     time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		zap.L().Warn("syncattend.xadd", zap.String("ev", ev), zap.Error(err))
	}
}
