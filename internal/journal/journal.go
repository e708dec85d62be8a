// Package journal provides the SQLite-backed investigation journal: passive
// telemetry about hosts, content types and container payload shapes collected
// for diagnostics. It never participates in control flow; callers log and
// discard its errors.
package journal

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the journal database kept at the output root
const FileName = "investigation.db"

// Journal wraps the SQLite connection holding run diagnostics
type Journal struct {
	conn *sql.DB
}

// ContainerShape describes one extracted container payload
type ContainerShape struct {
	ItemIndex    int
	FileCount    int
	OverlayCount int
}

// Count is a value/occurrence pair used by the aggregate readers
type Count struct {
	Value string
	Count int
}

// Open creates the journal database and initializes the schema
func Open(dbPath string) (*Journal, error) {
	// Connection parameters to help with concurrent access
	connString := dbPath
	if dbPath != ":memory:" {
		connString = dbPath + "?_busy_timeout=30000&_journal_mode=WAL&_synchronous=NORMAL"
	}

	conn, err := sql.Open("sqlite", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	// SQLite doesn't handle concurrent writes well
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	j := &Journal{conn: conn}
	if err := j.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	return j, nil
}

// Close closes the journal database
func (j *Journal) Close() error {
	return j.conn.Close()
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS hosts (
		host TEXT PRIMARY KEY,
		hits INTEGER NOT NULL DEFAULT 0,
		last_seen DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS content_types (
		content_type TEXT PRIMARY KEY,
		hits INTEGER NOT NULL DEFAULT 0,
		last_seen DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS container_shapes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_index INTEGER NOT NULL,
		file_count INTEGER NOT NULL,
		overlay_count INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_container_shapes_item ON container_shapes(item_index);

	CREATE TABLE IF NOT EXISTS container_extensions (
		extension TEXT PRIMARY KEY,
		hits INTEGER NOT NULL DEFAULT 0
	);
	`

	_, err := j.conn.Exec(schema)
	return err
}

// RecordHost counts one request against a host
func (j *Journal) RecordHost(host string) error {
	if host == "" {
		return nil
	}
	query := `
	INSERT INTO hosts (host, hits, last_seen) VALUES (?, 1, ?)
	ON CONFLICT(host) DO UPDATE SET hits = hits + 1, last_seen = excluded.last_seen`
	_, err := j.conn.Exec(query, host, time.Now().UTC())
	return err
}

// RecordContentType counts one response with the advertised content type
func (j *Journal) RecordContentType(contentType string) error {
	if contentType == "" {
		return nil
	}
	query := `
	INSERT INTO content_types (content_type, hits, last_seen) VALUES (?, 1, ?)
	ON CONFLICT(content_type) DO UPDATE SET hits = hits + 1, last_seen = excluded.last_seen`
	_, err := j.conn.Exec(query, contentType, time.Now().UTC())
	return err
}

// RecordContainerShape records the shape of an extracted container payload
// along with a histogram of the extensions found inside it
func (j *Journal) RecordContainerShape(shape ContainerShape, extensions map[string]int) error {
	query := `
	INSERT INTO container_shapes (item_index, file_count, overlay_count, created_at)
	VALUES (?, ?, ?, ?)`
	if _, err := j.conn.Exec(query, shape.ItemIndex, shape.FileCount, shape.OverlayCount, time.Now().UTC()); err != nil {
		return err
	}

	extQuery := `
	INSERT INTO container_extensions (extension, hits) VALUES (?, ?)
	ON CONFLICT(extension) DO UPDATE SET hits = hits + excluded.hits`
	for ext, hits := range extensions {
		if _, err := j.conn.Exec(extQuery, ext, hits); err != nil {
			return err
		}
	}
	return nil
}

// Hosts returns all recorded hosts ordered by hit count descending
func (j *Journal) Hosts() ([]Count, error) {
	return j.readCounts(`SELECT host, hits FROM hosts ORDER BY hits DESC, host ASC`)
}

// ContentTypes returns all recorded content types ordered by hit count descending
func (j *Journal) ContentTypes() ([]Count, error) {
	return j.readCounts(`SELECT content_type, hits FROM content_types ORDER BY hits DESC, content_type ASC`)
}

// ContainerExtensions returns the aggregate extension histogram across all
// recorded container payloads
func (j *Journal) ContainerExtensions() ([]Count, error) {
	counts, err := j.readCounts(`SELECT extension, hits FROM container_extensions ORDER BY hits DESC, extension ASC`)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(counts, func(i, k int) bool { return counts[i].Count > counts[k].Count })
	return counts, nil
}

// ContainerShapeStats returns the number of containers seen and the total
// file and overlay counts across them
func (j *Journal) ContainerShapeStats() (containers, files, overlays int, err error) {
	row := j.conn.QueryRow(`
	SELECT COUNT(*), COALESCE(SUM(file_count), 0), COALESCE(SUM(overlay_count), 0)
	FROM container_shapes`)
	if err := row.Scan(&containers, &files, &overlays); err != nil {
		return 0, 0, 0, fmt.Errorf("failed to read container stats: %w", err)
	}
	return containers, files, overlays, nil
}

func (j *Journal) readCounts(query string) ([]Count, error) {
	rows, err := j.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var counts []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Value, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
