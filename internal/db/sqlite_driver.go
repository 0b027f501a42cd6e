package db

import (
	"crypto/sha3"
	"database/sql"
	"fmt"
	"strings"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// SQLiteDriverName is the SQLCipher driver registered with the fixture's
	// SQL functions.
	SQLiteDriverName = "sqlite3_aihub"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("sha3", sqliteSHA3, true); err != nil {
				// Some SQLite builds already ship sha3().
				if strings.Contains(strings.ToLower(err.Error()), "already exists") {
					return nil
				}
				return fmt.Errorf("register sha3 SQL function: %w", err)
			}
			return nil
		},
	})
}

// sqliteSHA3 backs sha3(value, bits). Session tokens are stored as
// hex(sha3(token, 256)) so a leaked database holds no usable cookie.
func sqliteSHA3(input any, bits int64) ([]byte, error) {
	var data []byte
	switch x := input.(type) {
	case nil:
	case []byte:
		data = x
	case string:
		data = []byte(x)
	default:
		return nil, fmt.Errorf("unsupported sha3 input type: %T", input)
	}

	switch bits {
	case 256:
		sum := sha3.Sum256(data)
		return sum[:], nil
	case 512:
		sum := sha3.Sum512(data)
		return sum[:], nil
	default:
		return nil, fmt.Errorf("unsupported sha3 size: %d", bits)
	}
}
