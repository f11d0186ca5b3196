// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Options describes how to reach the PostgreSQL server.
type Options struct {
	Host     string
	Port     string
	User     string
	Password string
	// AdminDB is the maintenance database used to run CREATE DATABASE.
	AdminDB string
	SSLMode string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == "" {
		o.Port = "5432"
	}
	if o.AdminDB == "" {
		o.AdminDB = "postgres"
	}
	if o.SSLMode == "" {
		o.SSLMode = "disable"
	}
	if o.MaxOpenConns == 0 {
		o.MaxOpenConns = 10
	}
	if o.MaxIdleConns == 0 {
		o.MaxIdleConns = 2
	}
	if o.ConnMaxLifetime == 0 {
		o.ConnMaxLifetime = 30 * time.Minute
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	return o
}

// DSN returns the connection URL for database dbName.
func (o Options) DSN(dbName string) string {
	q := url.Values{}
	q.Set("sslmode", o.SSLMode)
	if o.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(o.ConnectTimeout/time.Second)))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(o.User, o.Password),
		Host:     net.JoinHostPort(o.Host, o.Port),
		Path:     "/" + dbName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Opener returns a pool for dsn. It must not block on the network; the
// provisioner pings the pool itself.
type Opener func(ctx context.Context, dsn string) (*sql.DB, error)

func openPostgres(_ context.Context, dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

func (o Options) configurePool(db *sql.DB) {
	db.SetMaxOpenConns(o.MaxOpenConns)
	db.SetMaxIdleConns(o.MaxIdleConns)
	db.SetConnMaxLifetime(o.ConnMaxLifetime)
}
