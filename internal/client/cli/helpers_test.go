package cli

import (
	"bytes"
	"database/sql"
	"sync"

	"github.com/dmitrijs2005/otpkeeper/internal/client/repositories/metadata"
)

func storageRepo(db *sql.DB) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}

// syncWriter lets the passkey poller and the test goroutine share a buffer.
type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *syncWriter) Reset() {
	w.mu.Lock()
	w.buf.Reset()
	w.mu.Unlock()
}
