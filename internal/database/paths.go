package database

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	AppDirName       = ".fleet-route-planner"
	ProjectsDirName  = "projects"
	SQLiteDBFileName = "data.db"
)

// GetAppDir returns ~/.fleet-route-planner, creating it if needed
func GetAppDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	appDir := filepath.Join(homeDir, AppDirName)
	if err := os.MkdirAll(appDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create app directory: %w", err)
	}

	return appDir, nil
}

// GetDefaultProjectsDir returns ~/.fleet-route-planner/projects, the root
// of the on-disk plan store, creating it if needed
func GetDefaultProjectsDir() (string, error) {
	appDir, err := GetAppDir()
	if err != nil {
		return "", err
	}

	projectsDir := filepath.Join(appDir, ProjectsDirName)
	if err := os.MkdirAll(projectsDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create projects directory: %w", err)
	}

	return projectsDir, nil
}

// GetDefaultDBPath returns the default SQLite database path: ~/.fleet-route-planner/data.db
func GetDefaultDBPath() (string, error) {
	appDir, err := GetAppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(appDir, SQLiteDBFileName), nil
}
