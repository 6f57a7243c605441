package config

import (
	"fmt"
	"path/filepath"
)

// Filesystem locations for the engine's durable state. Every field is
// required. When replica_id is set, it is appended as a subdirectory to each
// path so that multiple replicas can share a filesystem.
type dirsConfig struct {
	// path of the SQLite file holding task metadata
	DatabaseFile string `yaml:"database_file_path"`
	// directory holding the per-task queue databases
	QueueDir string `yaml:"task_progress_dbs_dir"`
	// directory holding local output segments before upload
	OutputDir string `yaml:"task_output_dir"`
	// directory holding per-task log files
	TaskLogDir string `yaml:"task_log_dir"`
	// directory holding the process log and per-data-source client logs
	AppLogDir string `yaml:"app_log_dir"`
	// optional replica identifier
	ReplicaId string `yaml:"replica_id"`
}

// appends the replica ID (if any) as a subdirectory to every path (for the
// metadata database file, to its parent directory)
func (dirs *dirsConfig) applyReplicaId() {
	if dirs.ReplicaId == "" {
		return
	}
	if dirs.DatabaseFile != "" {
		dirs.DatabaseFile = filepath.Join(filepath.Dir(dirs.DatabaseFile),
			dirs.ReplicaId, filepath.Base(dirs.DatabaseFile))
	}
	if dirs.QueueDir != "" {
		dirs.QueueDir = filepath.Join(dirs.QueueDir, dirs.ReplicaId)
	}
	if dirs.OutputDir != "" {
		dirs.OutputDir = filepath.Join(dirs.OutputDir, dirs.ReplicaId)
	}
	if dirs.TaskLogDir != "" {
		dirs.TaskLogDir = filepath.Join(dirs.TaskLogDir, dirs.ReplicaId)
	}
	if dirs.AppLogDir != "" {
		dirs.AppLogDir = filepath.Join(dirs.AppLogDir, dirs.ReplicaId)
	}
}

// This helper validates the given directory parameters, returning an error
// indicating success or failure.
func validateDirs(dirs dirsConfig) error {
	if dirs.DatabaseFile == "" {
		return fmt.Errorf("No database_file_path was provided!")
	}
	if dirs.QueueDir == "" {
		return fmt.Errorf("No task_progress_dbs_dir was provided!")
	}
	if dirs.OutputDir == "" {
		return fmt.Errorf("No task_output_dir was provided!")
	}
	if dirs.TaskLogDir == "" {
		return fmt.Errorf("No task_log_dir was provided!")
	}
	if dirs.AppLogDir == "" {
		return fmt.Errorf("No app_log_dir was provided!")
	}
	return nil
}
