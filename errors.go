package connkit

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorCode classifies connection lifecycle failures
type ErrorCode string

const (
	CodeConfiguration    ErrorCode = "CONFIGURATION"
	CodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	CodeMigrationFailed  ErrorCode = "MIGRATION_FAILED"
	CodeChecksumMismatch ErrorCode = "CHECKSUM_MISMATCH"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeNotInitialized   ErrorCode = "NOT_INITIALIZED"
	CodeInitFailed       ErrorCode = "INITIALIZATION_FAILED"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// Initialization phases reported in errors and logs
const (
	PhaseConfigure = "configure"
	PhaseConnect   = "connect"
	PhasePing      = "test-connection"
	PhaseMigrate   = "migrate"
)

// Sentinel errors for quick checks
var (
	ErrConfiguration    = errors.New("connkit: invalid configuration")
	ErrConnection       = errors.New("connkit: connection failed")
	ErrMigration        = errors.New("connkit: migration failed")
	ErrChecksumMismatch = errors.New("connkit: migration checksum mismatch")
	ErrTimeout          = errors.New("connkit: operation timed out")
	ErrNotInitialized   = errors.New("connkit: connection not initialized")
	ErrInitFailed       = errors.New("connkit: initialization failed")
)

// Error is a rich lifecycle error with context
type Error struct {
	Code    ErrorCode // Error classification
	Message string    // Human-readable message
	Op      string    // Operation that failed (e.g., "Initialize", "Migrate")
	Phase   string    // Initialization phase that failed, if applicable
	Detail  string    // Additional detail from PostgreSQL
	Query   string    // Query that failed (may be empty for security)
	Cause   error     // Underlying error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("connkit: %s", e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("connkit.%s: %s", e.Op, e.Message)
	}
	if e.Phase != "" {
		msg += fmt.Sprintf(" (phase: %s)", e.Phase)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for sentinel error matching
func (e *Error) Is(target error) bool {
	switch e.Code {
	case CodeConfiguration:
		return target == ErrConfiguration
	case CodeConnectionFailed:
		return target == ErrConnection
	case CodeMigrationFailed:
		return target == ErrMigration
	case CodeChecksumMismatch:
		return target == ErrChecksumMismatch
	case CodeTimeout:
		return target == ErrTimeout
	case CodeNotInitialized:
		return target == ErrNotInitialized
	case CodeInitFailed:
		return target == ErrInitFailed
	}
	return false
}

// wrapError converts a raw error to a rich Error
func wrapError(err error, op string) error {
	if err == nil {
		return nil
	}

	// Already wrapped
	var ckErr *Error
	if errors.As(err, &ckErr) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return wrapPgError(pgErr, op)
	}

	return &Error{
		Code:    CodeUnknown,
		Message: err.Error(),
		Op:      op,
		Cause:   err,
	}
}

// wrapPgError classifies PostgreSQL errors relevant to the lifecycle
func wrapPgError(pgErr *pgconn.PgError, op string) *Error {
	e := &Error{
		Op:     op,
		Detail: pgErr.Detail,
		Cause:  pgErr,
	}

	// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
	switch pgErr.Code {
	case "08000", "08003", "08006": // connection errors
		e.Code = CodeConnectionFailed
		e.Message = "database connection failed"
	case "57014": // query_canceled (timeout)
		e.Code = CodeTimeout
		e.Message = "query was cancelled due to timeout"
	case "3D000": // invalid_catalog_name (database does not exist)
		e.Code = CodeConfiguration
		e.Message = pgErr.Message
	case "28000", "28P01": // invalid authorization, bad password
		e.Code = CodeConfiguration
		e.Message = pgErr.Message
	default:
		e.Code = CodeUnknown
		e.Message = pgErr.Message
	}

	return e
}

// IsConfiguration checks if error is a configuration error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsConnection checks if error is a connection error
func IsConnection(err error) bool {
	return errors.Is(err, ErrConnection)
}

// IsMigration checks if error is a migration error
func IsMigration(err error) bool {
	return errors.Is(err, ErrMigration)
}

// IsChecksumMismatch checks if error is a migration drift error
func IsChecksumMismatch(err error) bool {
	return errors.Is(err, ErrChecksumMismatch)
}

// IsTimeout checks if error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotInitialized checks if error was caused by using the manager before Initialize
func IsNotInitialized(err error) bool {
	return errors.Is(err, ErrNotInitialized)
}

// IsInitFailed checks if error is an exhausted initialization
func IsInitFailed(err error) bool {
	return errors.Is(err, ErrInitFailed)
}

// GetErrorCode extracts the error code if it's a connkit error
func GetErrorCode(err error) (ErrorCode, bool) {
	var ckErr *Error
	if errors.As(err, &ckErr) {
		return ckErr.Code, true
	}
	return "", false
}

// GetPhase extracts the failing initialization phase if available
func GetPhase(err error) (string, bool) {
	var ckErr *Error
	if errors.As(err, &ckErr) && ckErr.Phase != "" {
		return ckErr.Phase, true
	}
	return "", false
}

// maskDSN redacts credentials from a connection string for logs and errors
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		if len(dsn) > 12 {
			return dsn[:6] + "***"
		}
		return "***"
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
