package database

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

// CassandraDB holds the session used by the message store
type CassandraDB struct {
	Session *gocql.Session
}

type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Consistency string
	Username    string
	Password    string
	Timeout     time.Duration
}

func NewCassandraDB(cfg *CassandraConfig) (*CassandraDB, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Timeout = cfg.Timeout
	cluster.NumConns = 2
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	consistency := gocql.LocalQuorum
	if cfg.Consistency != "" {
		parsed, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
		if err != nil {
			return nil, fmt.Errorf("invalid cassandra consistency %q: %w", cfg.Consistency, err)
		}
		consistency = parsed
	}
	cluster.Consistency = consistency

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}
	return &CassandraDB{Session: session}, nil
}

func (db *CassandraDB) Close() {
	if db.Session != nil {
		db.Session.Close()
	}
}

func (db *CassandraDB) Ping() error {
	if err := db.Session.Query("SELECT now() FROM system.local").Exec(); err != nil {
		return fmt.Errorf("cassandra ping failed: %w", err)
	}
	return nil
}
