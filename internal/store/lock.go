package store

import (
	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
)

// ErrLocked is returned by Lock when another process holds the database.
var ErrLocked = errors.New("database is in use by another process")

// Lock takes the advisory lock that sits next to the database file. A server
// holds it for as long as it runs; tools that swap the file out take it first.
// Release it with Unlock.
func Lock(dbPath string) (*flock.Flock, error) {
	fl := flock.New(dbPath + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "lock %s", dbPath)
	}
	if !ok {
		return nil, errors.Wrapf(ErrLocked, "lock %s", dbPath)
	}
	return fl, nil
}
