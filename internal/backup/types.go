// Package backup takes verified point-in-time copies of the sqlite graph
// database and thins them out with a tiered retention policy.
package backup

import (
	"time"
)

// Config holds backup service configuration.
type Config struct {
	// DBPath is the sqlite graph database to copy.
	DBPath string

	// Dir is where backups are written.
	Dir string

	// Interval between scheduled backups (default: 1h).
	Interval time.Duration

	// Verify runs an integrity check on every new backup.
	Verify bool

	Retention RetentionPolicy
}

// RetentionPolicy is how many backups to keep per age tier:
//   - Hourly: younger than a day
//   - Daily: one to seven days old
//   - Weekly: seven to thirty days old
//   - Monthly: thirty days to a year old
//
// Anything older than a year is always removed.
type RetentionPolicy struct {
	Hourly  int
	Daily   int
	Weekly  int
	Monthly int
}

// DefaultRetention keeps a day of hourlies, a week of dailies, a month of
// weeklies and a year of monthlies.
var DefaultRetention = RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}

// Info describes one backup file.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Result describes one completed backup.
type Result struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Size     int64         `json:"size"`
	Verified bool          `json:"verified"`
	Removed  []string      `json:"removed,omitempty"`
}

// HealthStatus summarizes the backup directory.
type HealthStatus struct {
	// Status is "healthy" or "warning".
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	LastBackup    time.Time `json:"last_backup,omitempty"`
	TotalBackups  int       `json:"total_backups"`
	Dir           string    `json:"dir"`
	DiskSpaceUsed int64     `json:"disk_space_used"`
}
