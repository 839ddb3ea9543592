package database

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"callrelay-backend/pkg/logger"
)

// DefaultCassandraQueryTimeout applies when the config leaves Timeout unset
const DefaultCassandraQueryTimeout = 5 * time.Second

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,47}$`)

// CassandraDB holds the chat message session
type CassandraDB struct {
	Session *gocql.Session
}

// CassandraConfig holds Cassandra connection configuration. A positive
// ReplicationFactor creates the keyspace (SimpleStrategy) when missing.
type CassandraConfig struct {
	Hosts             []string
	Keyspace          string
	Username          string
	Password          string
	Consistency       string
	Timeout           time.Duration
	ReplicationFactor int
}

func (c *CassandraConfig) cluster() (*gocql.ClusterConfig, error) {
	cluster := gocql.NewCluster(c.Hosts...)
	cluster.Consistency = gocql.Quorum
	if c.Consistency != "" {
		consistency, err := gocql.ParseConsistencyWrapper(c.Consistency)
		if err != nil {
			return nil, fmt.Errorf("invalid Cassandra consistency %q: %w", c.Consistency, err)
		}
		cluster.Consistency = consistency
	}

	cluster.Timeout = DefaultCassandraQueryTimeout
	if c.Timeout > 0 {
		cluster.Timeout = c.Timeout
	}
	if c.Username != "" && c.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: c.Username,
			Password: c.Password,
		}
	}
	return cluster, nil
}

// NewCassandraDB opens a session on the configured keyspace
func NewCassandraDB(config *CassandraConfig) (*CassandraDB, error) {
	if !keyspacePattern.MatchString(config.Keyspace) {
		return nil, fmt.Errorf("invalid Cassandra keyspace %q", config.Keyspace)
	}

	if config.ReplicationFactor > 0 {
		if err := ensureKeyspace(config); err != nil {
			return nil, err
		}
	}

	cluster, err := config.cluster()
	if err != nil {
		return nil, err
	}
	cluster.Keyspace = config.Keyspace

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	logger.Info("Connected to Cassandra",
		zap.Strings("hosts", config.Hosts),
		zap.String("keyspace", config.Keyspace))
	return &CassandraDB{Session: session}, nil
}

// ensureKeyspace runs on a short-lived session without a keyspace
func ensureKeyspace(config *CassandraConfig) error {
	cluster, err := config.cluster()
	if err != nil {
		return err
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("failed to create Cassandra bootstrap session: %w", err)
	}
	defer session.Close()

	stmt := fmt.Sprintf(
		`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`,
		config.Keyspace, config.ReplicationFactor)
	if err := session.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace %s: %w", config.Keyspace, err)
	}
	return nil
}

// Close closes the Cassandra session
func (c *CassandraDB) Close() {
	c.Session.Close()
}

// Ping reads the local node's release version
func (c *CassandraDB) Ping(ctx context.Context) error {
	var version string
	if err := c.QueryWithContext(ctx, `SELECT release_version FROM system.local`).Scan(&version); err != nil {
		return fmt.Errorf("cassandra ping failed: %w", err)
	}
	return nil
}

// QueryWithContext builds a query bound to ctx
func (c *CassandraDB) QueryWithContext(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return c.Session.Query(stmt, values...).WithContext(ctx)
}

// ExecWithContext executes a query without returning results
func (c *CassandraDB) ExecWithContext(ctx context.Context, stmt string, values ...interface{}) error {
	return c.QueryWithContext(ctx, stmt, values...).Exec()
}
