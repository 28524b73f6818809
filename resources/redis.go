package resources

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/jhump/annoboot/runtime"
)

type RedisConfig struct {
	ConnString   string        `json:"-"`
	Database     *int          `json:"database,omitempty"`
	PoolSize     int           `json:"pool_size,omitempty"`
	ReadTimeout  time.Duration `json:"read_timeout,omitempty"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty"`
}

// Redis provisions a *redis.Client. The connection string is a redis:// URL.
// Without one, the factory supplies one for the "redis" kind. Settings from
// setters win over those in the URL.
type Redis struct {
	config RedisConfig
}

func NewRedis() *Redis {
	return &Redis{}
}

func (r *Redis) ConnString(s string) *Redis {
	r.config.ConnString = s
	return r
}

func (r *Redis) Database(n int) *Redis {
	r.config.Database = &n
	return r
}

func (r *Redis) PoolSize(n int) *Redis {
	r.config.PoolSize = n
	return r
}

func (r *Redis) ReadTimeout(d time.Duration) *Redis {
	r.config.ReadTimeout = d
	return r
}

func (r *Redis) WriteTimeout(d time.Duration) *Redis {
	r.config.WriteTimeout = d
	return r
}

func (r *Redis) Type() string {
	return "redis"
}

func (r *Redis) Config() interface{} {
	return r.config
}

func (r *Redis) options(ctx context.Context, factory runtime.Factory) (*redis.Options, error) {
	conn := r.config.ConnString
	if conn == "" {
		var err error
		if conn, err = factory.ConnectionString(ctx, r.Type()); err != nil {
			return nil, err
		}
	}
	opts, err := redis.ParseURL(conn)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis connection string")
	}
	if r.config.Database != nil {
		opts.DB = *r.config.Database
	}
	if r.config.PoolSize > 0 {
		opts.PoolSize = r.config.PoolSize
	}
	if r.config.ReadTimeout > 0 {
		opts.ReadTimeout = r.config.ReadTimeout
	}
	if r.config.WriteTimeout > 0 {
		opts.WriteTimeout = r.config.WriteTimeout
	}
	return opts, nil
}

// Output connects to the server and checks that it can be reached.
func (r *Redis) Output(ctx context.Context, factory runtime.Factory) (*redis.Client, error) {
	opts, err := r.options(ctx, factory)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "could not reach redis at %s", opts.Addr)
	}
	return client, nil
}
