// Package snapshot reads and writes the snapshot file shared by the ingest and web services.
//
// The snapshot file holds the content of the report store as a single JSON array.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ubuntu/ais-insights/internal/common/fileutils"
	"github.com/ubuntu/ais-insights/internal/models"
	"github.com/ubuntu/decorate"
)

const (
	filePerm = 0640
	dirPerm  = 0750
)

// Persister writes whole snapshots to a file.
type Persister struct {
	path string
}

// NewPersister returns a Persister writing to path, creating its parent directory if needed.
func NewPersister(path string) (p *Persister, err error) {
	defer decorate.OnError(&err, "could not create snapshot persister")

	if path == "" {
		return nil, fmt.Errorf("snapshot path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, err
	}
	return &Persister{path: path}, nil
}

// Persist replaces the snapshot file with reports.
// Readers of the file observe either the previous snapshot or the new one.
func (p Persister) Persist(reports []models.Report) (err error) {
	defer decorate.OnError(&err, "could not persist snapshot to %s", p.path)

	if reports == nil {
		reports = []models.Report{}
	}
	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return err
	}
	return fileutils.AtomicWrite(p.path, data, filePerm)
}

// Path returns the snapshot file path.
func (p Persister) Path() string {
	return p.path
}
