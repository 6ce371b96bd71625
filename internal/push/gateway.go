package push

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel layout. Per-user channels carry read/delete updates and targeted
// announcements; the broadcast channel carries announcements whose recipient
// resolution is still pending; the admin channel carries send summaries.
const (
	AdminChannel     = "notify:admins"
	BroadcastChannel = "notify:broadcast"

	userChannelPrefix = "notify:user:"
)

// UserChannel returns the pub/sub channel for one user.
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// Publisher is the side of the gateway the services depend on. Delivery is
// best-effort: publish failures are logged, never propagated, because the
// query API remains the ground truth for missed events.
type Publisher interface {
	PublishToUser(ctx context.Context, userID string, event Event)
	PublishToAdmins(ctx context.Context, event Event)
	Broadcast(ctx context.Context, event Event)
}

// Recorder counts published events by channel class; satisfied by the
// metrics service.
type Recorder interface {
	RecordPush(channel string)
}

// Gateway delivers live-push events over Redis pub/sub and hands out
// per-connection subscriptions for the SSE endpoint.
type Gateway struct {
	client  *redis.Client
	metrics Recorder
	logger  *zap.Logger
}

// NewGateway constructs the gateway. metrics may be nil.
func NewGateway(client *redis.Client, metrics Recorder, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{client: client, metrics: metrics, logger: logger}
}

// PublishToUser emits an event on a user channel.
func (g *Gateway) PublishToUser(ctx context.Context, userID string, event Event) {
	g.publish(ctx, UserChannel(userID), event)
}

// PublishToAdmins emits an event on the admin channel.
func (g *Gateway) PublishToAdmins(ctx context.Context, event Event) {
	g.publish(ctx, AdminChannel, event)
}

// Broadcast emits an event every connected client receives.
func (g *Gateway) Broadcast(ctx context.Context, event Event) {
	g.publish(ctx, BroadcastChannel, event)
}

func (g *Gateway) publish(ctx context.Context, channel string, event Event) {
	if g.client == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		g.logger.Warn("marshal push event", zap.String("channel", channel), zap.Error(err))
		return
	}
	// Counts attempts, not deliveries; publish stays best-effort.
	if g.metrics != nil {
		g.metrics.RecordPush(channelClass(channel))
	}
	if err := g.client.Publish(ctx, channel, payload).Err(); err != nil {
		g.logger.Warn("publish push event", zap.String("channel", channel), zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// channelClass folds concrete channel names into the metric label set.
func channelClass(channel string) string {
	switch channel {
	case AdminChannel:
		return "admins"
	case BroadcastChannel:
		return "broadcast"
	default:
		return "user"
	}
}

// Subscription is one client connection's membership in the push channels.
type Subscription struct {
	pubsub *redis.PubSub
}

// Subscribe joins the broadcast channel, the user's own channel, and the
// admin channel when the connection asserted an admin principal.
func (g *Gateway) Subscribe(ctx context.Context, userID string, admin bool) *Subscription {
	channels := []string{BroadcastChannel, UserChannel(userID)}
	if admin {
		channels = append(channels, AdminChannel)
	}
	return &Subscription{pubsub: g.client.Subscribe(ctx, channels...)}
}

// Messages exposes the raw event stream for the connection.
func (s *Subscription) Messages() <-chan *redis.Message {
	return s.pubsub.Channel()
}

// Close leaves all channels.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
