package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteDriverNameConstant         = "sqlite"
	sqliteDataSourceTemplateConstant = "file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	databaseDirectoryModeConstant    = 0o755
	openErrorTemplateConstant        = "failed to open checkpoint database %s: %w"
	pingErrorTemplateConstant        = "failed to ping checkpoint database %s: %w"
	schemaErrorTemplateConstant      = "failed to initialize checkpoint schema: %w"
	directoryErrorTemplateConstant   = "failed to create checkpoint directory %s: %w"
	loadErrorTemplateConstant        = "failed to load checkpoints of %s: %w"
	saveErrorTemplateConstant        = "failed to save checkpoint of %s/%s: %w"
	deleteErrorTemplateConstant      = "failed to delete checkpoints of %s: %w"
	createCheckpointsTableConstant   = `CREATE TABLE IF NOT EXISTS checkpoints (
		repository TEXT NOT NULL,
		branch TEXT NOT NULL,
		commit_id TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (repository, branch)
	)`
	selectCheckpointsQueryConstant = `SELECT branch, commit_id FROM checkpoints WHERE repository = ?`
	upsertCheckpointQueryConstant  = `INSERT INTO checkpoints (repository, branch, commit_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repository, branch) DO UPDATE SET
			commit_id = excluded.commit_id,
			updated_at = excluded.updated_at`
	deleteCheckpointsQueryConstant = `DELETE FROM checkpoints WHERE repository = ?`
)

// SQLiteStore keeps checkpoints in a SQLite database.
type SQLiteStore struct {
	database *sql.DB
	clock    func() time.Time
}

// OpenSQLiteStore opens or creates the database at databasePath.
func OpenSQLiteStore(executionContext context.Context, databasePath string) (*SQLiteStore, error) {
	databaseDirectory := filepath.Dir(databasePath)
	if mkdirError := os.MkdirAll(databaseDirectory, databaseDirectoryModeConstant); mkdirError != nil {
		return nil, fmt.Errorf(directoryErrorTemplateConstant, databaseDirectory, mkdirError)
	}

	database, openError := sql.Open(sqliteDriverNameConstant, fmt.Sprintf(sqliteDataSourceTemplateConstant, databasePath))
	if openError != nil {
		return nil, fmt.Errorf(openErrorTemplateConstant, databasePath, openError)
	}
	database.SetMaxOpenConns(1)
	database.SetMaxIdleConns(1)

	if pingError := database.PingContext(executionContext); pingError != nil {
		_ = database.Close()
		return nil, fmt.Errorf(pingErrorTemplateConstant, databasePath, pingError)
	}
	if _, schemaError := database.ExecContext(executionContext, createCheckpointsTableConstant); schemaError != nil {
		_ = database.Close()
		return nil, fmt.Errorf(schemaErrorTemplateConstant, schemaError)
	}

	return &SQLiteStore{database: database, clock: time.Now}, nil
}

// Load returns the stored pointers of a repository keyed by branch.
func (store *SQLiteStore) Load(executionContext context.Context, repositoryName string) (map[string]string, error) {
	rows, queryError := store.database.QueryContext(executionContext, selectCheckpointsQueryConstant, repositoryName)
	if queryError != nil {
		return nil, fmt.Errorf(loadErrorTemplateConstant, repositoryName, queryError)
	}
	defer rows.Close()

	loaded := map[string]string{}
	for rows.Next() {
		var branch, commitID string
		if scanError := rows.Scan(&branch, &commitID); scanError != nil {
			return nil, fmt.Errorf(loadErrorTemplateConstant, repositoryName, scanError)
		}
		loaded[branch] = commitID
	}
	if rowsError := rows.Err(); rowsError != nil {
		return nil, fmt.Errorf(loadErrorTemplateConstant, repositoryName, rowsError)
	}
	return loaded, nil
}

// Save records the pointer of one branch.
func (store *SQLiteStore) Save(executionContext context.Context, repositoryName string, branch string, commitID string) error {
	if _, execError := store.database.ExecContext(executionContext, upsertCheckpointQueryConstant, repositoryName, branch, commitID, store.clock().UTC()); execError != nil {
		return fmt.Errorf(saveErrorTemplateConstant, repositoryName, branch, execError)
	}
	return nil
}

// Delete forgets every pointer of a repository.
func (store *SQLiteStore) Delete(executionContext context.Context, repositoryName string) error {
	if _, execError := store.database.ExecContext(executionContext, deleteCheckpointsQueryConstant, repositoryName); execError != nil {
		return fmt.Errorf(deleteErrorTemplateConstant, repositoryName, execError)
	}
	return nil
}

// Close closes the database.
func (store *SQLiteStore) Close() error {
	return store.database.Close()
}
