// Package resources provides resource builders for use with annoboot.
//
// Each builder is named after the annotation that selects it. A parameter
// annotated with @resources.Postgres(max_open_conns = 10) is provisioned by
// NewPostgres().MaxOpenConns(10).
package resources

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	// registers the "postgres" driver
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/jhump/annoboot/runtime"
)

// PostgresConfig is the configuration of a Postgres builder, as recorded by
// the resource tracker. The connection string is left out since it usually
// holds credentials.
type PostgresConfig struct {
	ConnString      string        `json:"-"`
	MaxOpenConns    int           `json:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty"`
	Driver          string        `json:"driver"`
}

// Postgres provisions a *sqlx.DB connected to a Postgres database. Without a
// connection string, the factory supplies one for the "postgres" kind.
type Postgres struct {
	config PostgresConfig
}

func NewPostgres() *Postgres {
	return &Postgres{config: PostgresConfig{Driver: "postgres"}}
}

func (p *Postgres) ConnString(s string) *Postgres {
	p.config.ConnString = s
	return p
}

func (p *Postgres) MaxOpenConns(n int) *Postgres {
	p.config.MaxOpenConns = n
	return p
}

func (p *Postgres) MaxIdleConns(n int) *Postgres {
	p.config.MaxIdleConns = n
	return p
}

func (p *Postgres) ConnMaxLifetime(d time.Duration) *Postgres {
	p.config.ConnMaxLifetime = d
	return p
}

// Driver sets the database/sql driver name. It defaults to "postgres".
func (p *Postgres) Driver(name string) *Postgres {
	p.config.Driver = name
	return p
}

func (p *Postgres) Type() string {
	return "postgres"
}

func (p *Postgres) Config() interface{} {
	return p.config
}

// Output opens the database and checks that it can be reached.
func (p *Postgres) Output(ctx context.Context, factory runtime.Factory) (*sqlx.DB, error) {
	conn := p.config.ConnString
	if conn == "" {
		var err error
		if conn, err = factory.ConnectionString(ctx, p.Type()); err != nil {
			return nil, err
		}
	}
	db, err := sqlx.Open(p.config.Driver, conn)
	if err != nil {
		return nil, errors.Wrap(err, "could not open postgres database")
	}
	if p.config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.config.MaxOpenConns)
	}
	if p.config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.config.MaxIdleConns)
	}
	if p.config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.config.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "could not reach postgres database")
	}
	return db, nil
}
