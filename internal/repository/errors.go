// Package repository defines error types that are reused across multiple
// repositories. These sentinel values let higher layers tell a refused
// operation apart from a store that could not be reached: the first is
// surfaced with an actionable message, the second as a retryable condition.
package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
)

// ErrPermission is returned when the backing store refuses a read or write
// for the configured account. Handlers translate it into HTTP 403.
var ErrPermission = errors.New("permission denied by store")

// ErrUnavailable is returned when the backing store cannot be reached or
// did not answer in time. Handlers translate it into HTTP 503 and mark the
// response retryable; nothing retries automatically.
var ErrUnavailable = errors.New("store unavailable")

// ErrNotFound is returned when a lookup yields no record.
var ErrNotFound = errors.New("not found")

// MySQL server error numbers that mean the account lacks a privilege.
var permissionErrnos = map[uint16]bool{
	1044: true, // ER_DBACCESS_DENIED_ERROR
	1045: true, // ER_ACCESS_DENIED_ERROR
	1142: true, // ER_TABLEACCESS_DENIED_ERROR
	1227: true, // ER_SPECIFIC_ACCESS_DENIED_ERROR
	1290: true, // ER_OPTION_PREVENTS_STATEMENT (read-only server)
}

// classify wraps a driver error with ErrPermission or ErrUnavailable when it
// belongs to one of those classes.  Other errors are returned unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && permissionErrnos[myErr.Number] {
		return fmt.Errorf("%s: %w: %v", op, ErrPermission, err)
	}
	if isConnectivity(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectivity(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
