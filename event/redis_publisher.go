package event

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hatlonely/secidx/build"
	"github.com/hatlonely/secidx/kv/store"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisPublisherOptions struct {
	Redis store.RedisStoreOptions `cfg:"redis"`

	// Channel 频道名，{database} {table} {index} 会被替换
	Channel string `cfg:"channel" def:"secidx:build:{database}.{table}.{index}"`
}

// RedisPublisher 通过 redis PUBLISH 发送 JSON 格式的快照
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisherWithOptions(options *RedisPublisherOptions) (*RedisPublisher, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	client, err := store.NewRedisClient(&options.Redis)
	if err != nil {
		return nil, err
	}
	return NewRedisPublisher(client, options.Channel), nil
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = "secidx:build:{database}.{table}.{index}"
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Channel 快照发布到的频道
func (p *RedisPublisher) Channel(status *build.IndexBuildStatus) string {
	return expandChannel(p.channel, status)
}

func (p *RedisPublisher) Publish(ctx context.Context, status *build.IndexBuildStatus) error {
	buf, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, "json.Marshal failed")
	}
	if err := p.client.Publish(ctx, p.Channel(status), buf).Err(); err != nil {
		return errors.Wrap(err, "redis.Publish failed")
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func expandChannel(channel string, status *build.IndexBuildStatus) string {
	if status.Index == nil {
		return channel
	}
	return strings.NewReplacer(
		"{database}", status.Index.Database,
		"{table}", status.Index.Table,
		"{index}", status.Index.Name,
	).Replace(channel)
}
