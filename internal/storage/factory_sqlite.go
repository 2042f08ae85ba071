//go:build sqlite

package storage

// DefaultStoreKind is the backend commands use when --store is not given.
func DefaultStoreKind() string {
	return "sqlite"
}

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}
