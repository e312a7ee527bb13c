// Package mysqldsn normalizes the gateway's MySQL credentials-DB DSN
// (config.SQLDSN), adapted from the teacher's common.NormalizeMySQLDSN.
package mysqldsn

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gosqlmysql "github.com/go-sql-driver/mysql"
)

// Normalize converts a mysql:// URL DSN to the go-sql-driver wire format and
// enforces ParseTime=true so DATETIME/TIMESTAMP columns (Credential's
// LastErrorTime/LastUsed, TokenCache's ExpiryTime/LastRefresh) scan straight
// into time.Time. When the DSN carries no explicit loc option, the
// connection location defaults to UTC, matching every timestamp the gateway
// stores (time.Now() is always UTC-naive in this process).
func Normalize(dsn string) (string, error) {
	normalized, err := convertMySQLURLToDSN(dsn)
	if err != nil {
		return "", errors.Wrap(err, "convert MySQL DSN")
	}

	cfg, err := gosqlmysql.ParseDSN(normalized)
	if err != nil {
		return "", errors.Wrap(err, "parse MySQL DSN")
	}

	cfg.ParseTime = true
	if !containsMySQLLocOption(normalized) {
		cfg.Loc = time.UTC
	}

	return cfg.FormatDSN(), nil
}

func convertMySQLURLToDSN(dsn string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(dsn), "mysql://") {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", errors.Wrap(err, "parse mysql:// DSN")
	}
	if parsed.Host == "" {
		return "", errors.New("mysql DSN missing host")
	}

	userInfo := ""
	if parsed.User != nil {
		userInfo = parsed.User.Username()
		if pwd, ok := parsed.User.Password(); ok {
			userInfo = fmt.Sprintf("%s:%s", userInfo, pwd)
		}
	}

	dbName := strings.TrimPrefix(parsed.Path, "/")
	base := ""
	if userInfo != "" {
		base = fmt.Sprintf("%s@", userInfo)
	}
	base += fmt.Sprintf("tcp(%s)/%s", parsed.Host, dbName)

	if parsed.RawQuery != "" {
		base = fmt.Sprintf("%s?%s", base, parsed.RawQuery)
	}
	return base, nil
}

func containsMySQLLocOption(dsn string) bool {
	idx := strings.Index(dsn, "?")
	if idx == -1 {
		return false
	}
	values, err := url.ParseQuery(dsn[idx+1:])
	if err != nil {
		return false
	}
	_, ok := values["loc"]
	return ok
}

// IsDuplicateKeyErr reports whether err is a MySQL "duplicate entry" error
// (code 1062 ER_DUP_ENTRY), e.g. a uuid collision on Credential.Add.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if merr, ok := asMySQLError(err); ok {
		return merr.Number == 1062
	}
	return strings.Contains(err.Error(), "Duplicate entry")
}

// IsDataTooLongErr reports whether err is a MySQL "data too long for column"
// error (code 1406 ER_DATA_TOO_LONG), e.g. a Credential.Name or
// LastErrorMessage write exceeding its column width.
func IsDataTooLongErr(err error) bool {
	if err == nil {
		return false
	}
	if merr, ok := asMySQLError(err); ok {
		return merr.Number == 1406
	}
	return strings.Contains(err.Error(), "Data too long for column")
}

// asMySQLError unwraps err (github.com/Laisky/errors/v2 wraps with %w) down
// to the driver's *mysql.MySQLError, mirroring the teacher's
// isMySQLDataTooLongErr type assertion but tolerant of the wrap chain this
// gateway adds around every DB error.
func asMySQLError(err error) (*gosqlmysql.MySQLError, bool) {
	var merr *gosqlmysql.MySQLError
	if errors.As(err, &merr) {
		return merr, true
	}
	return nil, false
}
