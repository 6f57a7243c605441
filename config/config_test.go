package config

// These tests verify that we can properly configure the data fetching engine
// with YAML input.
import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/stretchr/testify/assert"
	"testing"
)

// a valid service config entry
const VALID_SERVICE string = `
service:
  port: 8080
  max_connections: 100
  poll_interval: 1
  log_level: INFO
`

// a valid dirs config entry
const VALID_DIRS string = `
dirs:
  database_file_path: /tmp/dfe/tasks.db
  task_progress_dbs_dir: /tmp/dfe/queues
  task_output_dir: /tmp/dfe/outputs
  task_log_dir: /tmp/dfe/task-logs
  app_log_dir: /tmp/dfe/logs
`

// a valid s3 config entry (local uploads, so no credentials needed)
const VALID_S3 string = `
s3:
  local_dir: /tmp/dfe/uploads
`

// a valid data sources config entry
const VALID_DATA_SOURCES string = `
data_sources:
  spotify-api:
    url: https://api.spotify.com/v1
    auth:
      client_id: ${SPOTIFY_CLIENT_ID}
      client_secret: ${SPOTIFY_CLIENT_SECRET}
`

// tests whether config.Init reports an error for blank input
func TestInitRejectsBlankInput(t *testing.T) {
	b := []byte("")
	err := Init(b)
	assert.NotNil(t, err, "Blank config didn't trigger an error.")
}

// tests whether config.Init reports an error for an invalid port
func TestInitRejectsBadPort(t *testing.T) {
	yaml := "service:\n  port: -1\n\n" + VALID_DIRS + VALID_S3
	b := []byte(yaml)
	err := Init(b)
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
	yaml = "service:\n  port: 1000000\n\n" + VALID_DIRS + VALID_S3
	b = []byte(yaml)
	err = Init(b)
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
}

// tests whether config.Init reports an error for an invalid max number of
// connections
func TestInitRejectsBadMaxConnections(t *testing.T) {
	yaml := "service:\n  max_connections: 0\n\n" + VALID_DIRS + VALID_S3
	b := []byte(yaml)
	err := Init(b)
	assert.NotNil(t, err, "Config with bad max_connections didn't trigger an error.")
}

// tests whether config.Init reports an error for an unrecognized log level
func TestInitRejectsBadLogLevel(t *testing.T) {
	yaml := "service:\n  log_level: CHATTY\n\n" + VALID_DIRS + VALID_S3
	b := []byte(yaml)
	err := Init(b)
	assert.NotNil(t, err, "Config with bad log_level didn't trigger an error.")
}

// tests whether config.Init rejects a configuration with missing directories
func TestInitRejectsMissingDirs(t *testing.T) {
	yaml := VALID_SERVICE + VALID_S3
	b := []byte(yaml)
	err := Init(b)
	assert.NotNil(t, err, "Config with no dirs didn't trigger an error.")
}

// tests whether config.Init rejects an s3 section with no credentials and no
// local directory
func TestInitRejectsIncompleteS3(t *testing.T) {
	yaml := VALID_SERVICE + VALID_DIRS +
		"s3:\n  endpoint_url: https://s3.example.com\n  bucket: outputs\n"
	b := []byte(yaml)
	err := Init(b)
	assert.NotNil(t, err, "Config with incomplete s3 credentials didn't trigger an error.")
}

// tests whether config.Init rejects a data source with a bad base URL
func TestInitRejectsBadDataSourceURL(t *testing.T) {
	yaml := VALID_SERVICE + VALID_DIRS + VALID_S3 +
		"data_sources:\n  spotify-api:\n    url: hahahahahahaha\n"
	b := []byte(yaml)
	err := Init(b)
	assert.NotNil(t, err, "Config with bad data source URL didn't trigger an error.")
}

// Tests whether config.Init returns no error for a configuration that is
// (ostensibly) valid. NOTE: This particular configuration is consistent and
// contains acceptible values for fields. It won't actually run a service!
func TestInitAcceptsValidInput(t *testing.T) {
	yaml := VALID_SERVICE + VALID_DIRS + VALID_S3 + VALID_DATA_SOURCES
	b := []byte(yaml)
	err := Init(b)
	assert.Nil(t, err, fmt.Sprintf("Valid YAML input produced an error: %s", err))
}

// Tests whether config.Init properly initializes its globals for valid input.
func TestInitProperlySetsGlobals(t *testing.T) {
	yaml := VALID_SERVICE + VALID_DIRS + VALID_S3 + VALID_DATA_SOURCES
	b := []byte(yaml)
	err := Init(b)
	assert.Nil(t, err, fmt.Sprintf("Valid YAML input produced an error: %s", err))

	// Check data
	assert.Equal(t, 8080, Service.Port)
	assert.Equal(t, 100, Service.MaxConnections)
	assert.Equal(t, int64(500*1024*1024), Service.SegmentThreshold)
	assert.Equal(t, "/tmp/dfe/tasks.db", Dirs.DatabaseFile)
	assert.Equal(t, "/tmp/dfe/uploads", S3.LocalDir)
	assert.Equal(t, 1, len(DataSources))
}

// Tests whether a replica ID is appended to each configured path.
func TestReplicaIdNamespacesPaths(t *testing.T) {
	yaml := VALID_SERVICE + VALID_DIRS + "  replica_id: replica-3\n" + VALID_S3
	b := []byte(yaml)
	err := Init(b)
	assert.Nil(t, err, fmt.Sprintf("Valid YAML input produced an error: %s", err))
	assert.Equal(t, filepath.Join("/tmp/dfe", "replica-3", "tasks.db"), Dirs.DatabaseFile)
	assert.Equal(t, filepath.Join("/tmp/dfe/queues", "replica-3"), Dirs.QueueDir)
	assert.Equal(t, filepath.Join("/tmp/dfe/outputs", "replica-3"), Dirs.OutputDir)
	assert.Equal(t, filepath.Join("/tmp/dfe/task-logs", "replica-3"), Dirs.TaskLogDir)
	assert.Equal(t, filepath.Join("/tmp/dfe/logs", "replica-3"), Dirs.AppLogDir)
}

// this function gets called at the begіnning of a test session
func setup() {
}

// this function gets called after all tests have been run
func breakdown() {
}

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}
