package warehouse

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	sf "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/ajitpratap0/batchsync/pkg/errors"
	"github.com/ajitpratap0/batchsync/pkg/json"
)

const (
	// DefaultTokenPath is where Snowpark Container Services mounts the session token
	DefaultTokenPath = "/snowflake/session/token"
	// ApplicationName identifies this connector in Snowflake query history
	ApplicationName = "BATCH_CONNECTOR"
)

// Params are the Snowflake connection parameters. They come either from the
// --connection-parameters JSON blob or from SNOWFLAKE_* environment variables.
type Params struct {
	Account       string `json:"account" env:"SNOWFLAKE_ACCOUNT"`
	Host          string `json:"host" env:"SNOWFLAKE_HOST"`
	User          string `json:"user" env:"SNOWFLAKE_USER"`
	Password      string `json:"password" env:"SNOWFLAKE_PASSWORD"`
	Authenticator string `json:"authenticator"`
	Token         string `json:"token"`
	Warehouse     string `json:"warehouse" env:"SNOWFLAKE_WAREHOUSE"`
	Database      string `json:"database" env:"SNOWFLAKE_DATABASE"`
	Schema        string `json:"schema" env:"SNOWFLAKE_SCHEMA"`
	Role          string `json:"role" env:"SNOWFLAKE_ROLE"`
	Application   string `json:"application"`

	PrivateKeyFile       string `json:"private_key_file" env:"SNOWFLAKE_PRIVATE_KEY_FILE"`
	PrivateKeyPassphrase string `json:"private_key_passphrase" env:"SNOWFLAKE_PRIVATE_KEY_PASSPHRASE"`

	TokenPath string `json:"-" env:"SNOWFLAKE_TOKEN_PATH,default=/snowflake/session/token"`
}

// ParseParams decodes a JSON object of connection parameters.
func ParseParams(blob string) (*Params, error) {
	var p Params
	if err := json.Unmarshal([]byte(blob), &p); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid connection parameters JSON")
	}
	if p.Application == "" {
		p.Application = ApplicationName
	}
	return &p, nil
}

// ParamsFromEnv reads SNOWFLAKE_* variables. When a session token file is
// present, OAuth with that token is used; the token is short-lived, so it is
// read right before connecting.
func ParamsFromEnv() (*Params, error) {
	var p Params
	if _, err := env.UnmarshalFromEnviron(&p); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid Snowflake environment")
	}
	p.Application = ApplicationName

	if p.TokenPath == "" {
		p.TokenPath = DefaultTokenPath
	}
	token, err := os.ReadFile(p.TokenPath)
	switch {
	case err == nil:
		p.Authenticator = "oauth"
		p.Token = strings.TrimSpace(string(token))
		p.User, p.Password = "", ""
	case !os.IsNotExist(err):
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read session token")
	}
	return &p, nil
}

// Config builds the gosnowflake configuration.
func (p *Params) Config() (*sf.Config, error) {
	if p.Account == "" && p.Host == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "Snowflake account or host is required")
	}

	cfg := &sf.Config{
		Account:     p.Account,
		Host:        p.Host,
		User:        p.User,
		Password:    p.Password,
		Warehouse:   p.Warehouse,
		Database:    p.Database,
		Schema:      p.Schema,
		Role:        p.Role,
		Application: p.Application,
		// Continue if OCSP check fails
		OCSPFailOpen: sf.OCSPFailOpenTrue,
	}
	if cfg.Application == "" {
		cfg.Application = ApplicationName
	}

	switch {
	case p.PrivateKeyFile != "":
		key, err := loadPrivateKeyFile(p.PrivateKeyFile, p.PrivateKeyPassphrase)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load private key")
		}
		cfg.Authenticator = sf.AuthTypeJwt
		cfg.PrivateKey = key
		cfg.Password = ""
	case strings.EqualFold(p.Authenticator, "oauth"):
		if p.Token == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "oauth authenticator requires a token")
		}
		cfg.Authenticator = sf.AuthTypeOAuth
		cfg.Token = p.Token
	default:
		if p.User == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "Snowflake user is required")
		}
		cfg.Authenticator = sf.AuthTypeSnowflake
	}
	return cfg, nil
}

// Open connects to Snowflake and verifies the session.
func Open(ctx context.Context, p *Params, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := p.Config()
	if err != nil {
		return nil, err
	}

	db := sql.OpenDB(sf.NewConnector(sf.SnowflakeDriver{}, *cfg))
	configurePool(db)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping Snowflake")
	}

	session := NewDB(db, Snowflake, logger)
	session.logSessionContext(ctx)
	return session, nil
}

// logSessionContext records which database, schema, warehouse and role the
// session resolved to. Failures are only logged.
func (d *DB) logSessionContext(ctx context.Context) {
	res, err := d.Query(ctx, "SELECT CURRENT_DATABASE(), CURRENT_SCHEMA(), CURRENT_WAREHOUSE(), CURRENT_ROLE()")
	if err != nil || res.Empty() {
		d.logger.Warn("could not read session context", zap.Error(err))
		return
	}
	row := res.Rows[0]
	d.logger.Info("connection succeeded",
		zap.Any("database", row[0]),
		zap.Any("schema", row[1]),
		zap.Any("warehouse", row[2]),
		zap.Any("role", row[3]))
}

// ConnectTimeout bounds connection bootstrap when the caller has no deadline.
const ConnectTimeout = 2 * time.Minute
