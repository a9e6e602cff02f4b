package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"transfer-ledger/pkg/store"

	"github.com/lib/pq"
)

// PostgreSQL error codes the store reacts to.
const (
	codeUniqueViolation   = "23505"
	codeLockNotAvailable  = "55P03"
	codeQueryCanceled     = "57014"
	classConnectionFailed = "08"
)

// translate maps driver errors onto the store sentinels while keeping the
// original error reachable with errors.As.
func translate(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrTxDone) {
		return store.ErrTxDone
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch {
	case pqErr.Code == codeUniqueViolation && pqErr.Table == "processed_ops":
		return fmt.Errorf("%w: %w", store.ErrOperationExists, err)
	case pqErr.Code == codeLockNotAvailable, pqErr.Code == codeQueryCanceled:
		return fmt.Errorf("%w: %w", store.ErrLockTimeout, err)
	case pqErr.Code.Class() == classConnectionFailed:
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}

	return err
}
