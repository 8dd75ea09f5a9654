package backup

import (
	"context"
	"path/filepath"
)

// Target identifies the collection a run exports and purges.
type Target struct {
	URI            string
	DatabaseName   string
	CollectionName string
}

// Snapshot is the local result of one export.
type Snapshot struct {
	// Dir is the dump utility's output directory; removing it removes the
	// whole snapshot.
	Dir string
	// DumpFile is the serialized collection inside Dir.
	DumpFile string
	// IDs holds the primary key of every exported document in file order.
	IDs []DocumentID
}

func (s *Snapshot) DocumentCount() int {
	return len(s.IDs)
}

type Exporter interface {
	Export(ctx context.Context, target Target, outputDir string) (*Snapshot, error)
}

// DumpFilePath returns where mongodump writes a collection under outputDir.
func DumpFilePath(outputDir, dbName, collection string) string {
	return filepath.Join(outputDir, dbName, collection+".bson")
}
