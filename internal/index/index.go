package index

import "github.com/starford/krecord/internal/diary"

// DiaryIndex defines the index operations used by the HTTP and MCP layers.
// Consumers depend on this interface rather than the concrete *DB type.
type DiaryIndex interface {
	UpsertDiary(r DiaryRow, body string) error
	DeleteDiary(path string) error
	GetChecksum(path string) (string, error)
	AllChecksums() (map[string]string, error)
	Locate(id string) (string, bool)
	Invalidate(id string)
	Search(query string, limit int) ([]SearchResult, error)
	Close() error
}

// Verify *DB satisfies DiaryIndex and diary.Locator at compile time.
var (
	_ DiaryIndex    = (*DB)(nil)
	_ diary.Locator = (*DB)(nil)
)
