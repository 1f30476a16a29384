package function

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/jmerrifield20/NexusLedger/internal/storage"
	"github.com/jmerrifield20/NexusLedger/pkg/status"
)

const tablePrefix = "f/"

// Row is one row of a table.
type Row struct {
	Key   string
	Value []byte
}

// Database is the mutable table store functions write to. Rows live under
// f/<table>/<key> in the storage transaction of the execution.
type Database struct {
	tx storage.Transaction
}

// NewDatabase wraps tx.
func NewDatabase(tx storage.Transaction) *Database {
	return &Database{tx: tx}
}

func tableKeyPrefix(table string) string {
	return tablePrefix + url.PathEscape(table) + "/"
}

func rowKey(table, key string) []byte {
	return []byte(tableKeyPrefix(table) + url.PathEscape(key))
}

func checkTable(table, key string) error {
	if table == "" || key == "" {
		return status.New(status.InvalidFunction, "table and key are required")
	}
	return nil
}

func dbError(err error, format string, args ...any) error {
	if storage.IsConflict(err) {
		return status.Wrap(status.Conflict, err, format, args...)
	}
	return status.Wrap(status.DatabaseError, err, format, args...)
}

// Get returns the value of one row.
func (d *Database) Get(ctx context.Context, table, key string) ([]byte, bool, error) {
	if err := checkTable(table, key); err != nil {
		return nil, false, err
	}
	b, err := d.tx.Get(ctx, rowKey(table, key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, dbError(err, "get %s/%s", table, key)
	}
	return b, true, nil
}

// Scan returns up to limit rows of table in key order. Zero means no limit.
func (d *Database) Scan(ctx context.Context, table string, limit int) ([]Row, error) {
	if table == "" {
		return nil, status.New(status.InvalidFunction, "table is required")
	}
	prefix := tableKeyPrefix(table)
	r := storage.PrefixRange([]byte(prefix))
	r.Limit = limit
	kvs, err := d.tx.Scan(ctx, r)
	if err != nil {
		return nil, dbError(err, "scan %s", table)
	}
	rows := make([]Row, 0, len(kvs))
	for _, kv := range kvs {
		key, err := url.PathUnescape(strings.TrimPrefix(string(kv.Key), prefix))
		if err != nil {
			return nil, status.Wrap(status.DatabaseError, err, "scan %s", table)
		}
		rows = append(rows, Row{Key: key, Value: kv.Value})
	}
	return rows, nil
}

// Put writes one row.
func (d *Database) Put(table, key string, value []byte) error {
	if err := checkTable(table, key); err != nil {
		return err
	}
	if err := d.tx.Put(rowKey(table, key), value); err != nil {
		return dbError(err, "put %s/%s", table, key)
	}
	return nil
}

// Delete removes one row.
func (d *Database) Delete(table, key string) error {
	if err := checkTable(table, key); err != nil {
		return err
	}
	if err := d.tx.Delete(rowKey(table, key)); err != nil {
		return dbError(err, "delete %s/%s", table, key)
	}
	return nil
}
