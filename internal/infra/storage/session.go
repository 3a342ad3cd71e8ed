// Package storage owns the database engine lifecycle: connection pool setup
// for static or managed-identity credentials, the transactional unit-of-work
// scope every repository write runs inside, and shared tracing helpers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/streetlens/batchtrack/internal/domain/tracking"
	"github.com/streetlens/batchtrack/internal/infra/auth"
	"github.com/streetlens/batchtrack/pkg/common/logger"
)

var (
	// ErrConnection indicates the engine or pool could not be established.
	// Fatal; the session manager never retries on its own.
	ErrConnection = errors.New("database connection failed")

	// ErrNotSessionUnitOfWork indicates a repository received a unit of work
	// that was not issued by this session manager.
	ErrNotSessionUnitOfWork = errors.New("unit of work was not issued by this session manager")
)

// CredentialMode selects how the connection descriptor is resolved. It is an
// explicit constructor argument, not a process-wide switch.
type CredentialMode string

const (
	// CredentialModeStatic uses the four static connection fields.
	CredentialModeStatic CredentialMode = "static"

	// CredentialModeManagedIdentity combines {user, host, database} with a
	// live token issued by a credential provider.
	CredentialModeManagedIdentity CredentialMode = "managed_identity"
)

// Config describes the connection target for a SessionManager.
type Config struct {
	Mode     CredentialMode
	Host     string
	Port     uint16
	Database string
	User     string

	// Password is only consulted in static mode.
	Password string

	SSLMode  string
	MinConns int32
	MaxConns int32
}

func (c Config) dsn() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=%s", c.User, c.Host, port, c.Database, sslMode)
}

// SessionManager owns one connection pool per process and hands out scoped
// units of work. Disposal happens exactly once regardless of how many times
// Close is called.
type SessionManager struct {
	pool     *pgxpool.Pool
	provider *auth.Provider
	logger   *logger.Logger

	closeOnce sync.Once
}

var _ tracking.UnitOfWorkRunner = (*SessionManager)(nil)

// NewSessionManager resolves the connection target and establishes the pool.
// In managed-identity mode every new pool connection picks up a freshly
// validated token as its password. Failure wraps ErrConnection; retrying is a
// caller decision.
func NewSessionManager(
	ctx context.Context,
	cfg Config,
	provider *auth.Provider,
	log *logger.Logger,
	tracer trace.Tracer,
) (*SessionManager, error) {
	if cfg.Mode == CredentialModeManagedIdentity && provider == nil {
		return nil, fmt.Errorf("%w: managed identity mode requires a credential provider", ErrConnection)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("%w: parsing pool config: %v", ErrConnection, err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	switch cfg.Mode {
	case CredentialModeStatic:
		poolCfg.ConnConfig.Password = cfg.Password
	case CredentialModeManagedIdentity:
		poolCfg.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
			cred, err := provider.Token(ctx)
			if err != nil {
				return err
			}
			cc.Password = cred.Token
			return nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown credential mode %q", ErrConnection, cfg.Mode)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	log.Info(ctx, "Database session manager established",
		"host", cfg.Host, "database", cfg.Database, "mode", string(cfg.Mode))

	return &SessionManager{
		pool:     pool,
		provider: provider,
		logger:   log.With("component", "session_manager"),
	}, nil
}

// NewSessionManagerFromPool wraps an existing pool. Used by tests that manage
// their own container-backed pool. A nil provider disables the token renewal
// gate, matching static credential mode.
func NewSessionManagerFromPool(pool *pgxpool.Pool, provider *auth.Provider, log *logger.Logger) *SessionManager {
	return &SessionManager{pool: pool, provider: provider, logger: log.With("component", "session_manager")}
}

// Pool exposes the underlying pool for migrations and health checks.
func (m *SessionManager) Pool() *pgxpool.Pool { return m.pool }

// UnitOfWork binds one transaction to one scope. Repositories receive it
// opaquely through the tracking.UnitOfWork interface and resolve the
// transaction via TxFromUnitOfWork.
type UnitOfWork struct {
	id string
	tx pgx.Tx
}

// ID identifies the scope in logs.
func (u *UnitOfWork) ID() string { return u.id }

// TxFromUnitOfWork resolves the pgx transaction backing a unit of work.
func TxFromUnitOfWork(uow tracking.UnitOfWork) (pgx.Tx, error) {
	su, ok := uow.(*UnitOfWork)
	if !ok || su.tx == nil {
		return nil, ErrNotSessionUnitOfWork
	}
	return su.tx, nil
}

// WithinUnitOfWork acquires one session, begins one transaction, and runs fn
// inside it. A nil return commits; any error rolls back and propagates
// unchanged. The session returns to the pool on every exit path. In
// managed-identity mode an invalid token is renewed synchronously before the
// session is acquired; renewal failure aborts the unit of work.
func (m *SessionManager) WithinUnitOfWork(ctx context.Context, fn func(ctx context.Context, uow tracking.UnitOfWork) error) error {
	if m.provider != nil && !m.provider.Valid(time.Now()) {
		if _, err := m.provider.Token(ctx); err != nil {
			return err
		}
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction error: %w", err)
	}

	uow := &UnitOfWork{id: uuid.NewString(), tx: tx}

	if err := fn(ctx, uow); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			// The rollback failure must never shadow the body's error.
			m.logger.Error(ctx, "Unit of work rollback failed", "uow_id", uow.id, "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction error: %w", err)
	}
	return nil
}

// Close releases pool resources. Safe to call more than once; only the first
// call disposes the pool.
func (m *SessionManager) Close() {
	m.closeOnce.Do(func() {
		m.pool.Close()
		m.logger.Info(context.Background(), "Database session manager disposed")
	})
}
