package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"postal-service/internal/config"
	"postal-service/internal/util"
)

// PreparedStatements holds the CQL text the repositories execute. Each call
// builds its own gocql.Query from these, so concurrent callers never share
// bound values.
type PreparedStatements struct {
	UpsertSubject     string
	GetSubject        string
	DeleteSubject     string
	UpsertEmailIndex  string
	GetEmailIndex     string
	DeleteEmailIndex  string
	UpsertMobileIndex string
	GetMobileIndex    string
	DeleteMobileIndex string

	UpsertParcel  string
	GetParcel     string
	DeliverParcel string
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.UpsertSubject = `
        INSERT INTO subjects (
            subject_bucket, identifier, display_name, mobile, email, role,
            credential_hash, biometric_template, verified, access_granted,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	prepared.GetSubject = `
        SELECT subject_bucket, identifier, display_name, mobile, email, role,
            credential_hash, biometric_template, verified, access_granted,
            created_at, updated_at
        FROM subjects WHERE subject_bucket = ? AND identifier = ?`

	prepared.DeleteSubject = `
        DELETE FROM subjects WHERE subject_bucket = ? AND identifier = ?`

	prepared.UpsertEmailIndex = `
        INSERT INTO email_to_subject (email, identifier) VALUES (?, ?)`

	prepared.GetEmailIndex = `
        SELECT identifier FROM email_to_subject WHERE email = ?`

	prepared.DeleteEmailIndex = `
        DELETE FROM email_to_subject WHERE email = ?`

	prepared.UpsertMobileIndex = `
        INSERT INTO mobile_to_subject (mobile, identifier) VALUES (?, ?)`

	prepared.GetMobileIndex = `
        SELECT identifier FROM mobile_to_subject WHERE mobile = ?`

	prepared.DeleteMobileIndex = `
        DELETE FROM mobile_to_subject WHERE mobile = ?`

	prepared.UpsertParcel = `
        INSERT INTO parcels (
            parcel_bucket, id, sender_identifier, receiver_mobile, receiver_email,
            receiver_address, description, weight, status, created_at, delivered_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	prepared.GetParcel = `
        SELECT parcel_bucket, id, sender_identifier, receiver_mobile, receiver_email,
            receiver_address, description, weight, status, created_at, delivered_at
        FROM parcels WHERE parcel_bucket = ? AND id = ?`

	prepared.DeliverParcel = `
        UPDATE parcels SET status = ?, delivered_at = ?
        WHERE parcel_bucket = ? AND id = ? IF status = ?`

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}
