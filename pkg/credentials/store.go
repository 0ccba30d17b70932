// Package credentials resolves the destination API secret for a project key
// from a warehouse table.
package credentials

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/batchsync/pkg/errors"
	"github.com/ajitpratap0/batchsync/pkg/warehouse"
)

const (
	// ProjectKeyColumn is the lookup column of the credentials table
	ProjectKeyColumn = "PROJECT_KEY"
	// SecretColumn holds the REST API key
	SecretColumn = "REST_API_KEY"
)

// Record is one row of the credentials table.
type Record struct {
	ProjectKey string
	RESTAPIKey string
}

// Store looks up credentials through a warehouse session.
type Store struct {
	querier warehouse.Querier
	dialect warehouse.Dialect
	table   warehouse.Identifier
	logger  *zap.Logger
}

// NewStore validates the credentials table name.
func NewStore(q warehouse.Querier, dialect warehouse.Dialect, table string, logger *zap.Logger) (*Store, error) {
	id, err := warehouse.ParseIdentifier(table)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid credentials table")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		querier: q,
		dialect: dialect,
		table:   id,
		logger:  logger.With(zap.String("component", "credentials")),
	}, nil
}

// Lookup returns the credentials for projectKey. A missing row, a missing
// secret column and an empty secret are configuration errors.
func (s *Store) Lookup(ctx context.Context, projectKey string) (*Record, error) {
	s.logger.Info("retrieving API credentials", zap.String("project_key", projectKey))

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s",
		s.table.SQL(s.dialect), ProjectKeyColumn, s.dialect.Placeholder(1))
	res, err := s.querier.Query(ctx, query, projectKey)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to query API credentials")
	}
	if res.Empty() {
		return nil, errors.Newf(errors.ErrorTypeConfig, "No API credentials found for project key: %s", projectKey)
	}

	idx := -1
	for i, col := range res.Columns {
		if strings.EqualFold(col, SecretColumn) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "REST_API_KEY column not found in API credentials table")
	}

	secret, _ := res.Rows[0][idx].(string)
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "REST_API_KEY column not found in API credentials table").
			WithDetail("reason", "empty secret")
	}
	return &Record{ProjectKey: projectKey, RESTAPIKey: secret}, nil
}
