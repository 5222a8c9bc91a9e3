package backup

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// listBackups returns the .db files in dir, newest first.
func listBackups(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read backup directory", goerr.V("dir", dir))
	}

	var backups []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Info{
			Path:      filepath.Join(dir, entry.Name()),
			Timestamp: fi.ModTime(),
			Size:      fi.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// expired picks the backups to delete under policy at now. backups must be
// sorted newest first.
func expired(backups []Info, policy RetentionPolicy, now time.Time) []string {
	var hourly, daily, weekly, monthly, out []string
	for _, b := range backups {
		switch age := now.Sub(b.Timestamp); {
		case age < day:
			hourly = append(hourly, b.Path)
		case age < week:
			daily = append(daily, b.Path)
		case age < 30*day:
			weekly = append(weekly, b.Path)
		case age < 365*day:
			monthly = append(monthly, b.Path)
		default:
			out = append(out, b.Path)
		}
	}

	keep := func(tier []string, n int) {
		if len(tier) > n {
			out = append(out, tier[n:]...)
		}
	}
	keep(hourly, policy.Hourly)
	keep(daily, policy.Daily)
	keep(weekly, policy.Weekly)
	keep(monthly, policy.Monthly)
	return out
}

// applyRetention removes the backups in dir that policy no longer keeps.
// Removal continues past individual failures; the removed paths and the
// joined errors are returned.
func applyRetention(dir string, policy RetentionPolicy, now time.Time) ([]string, error) {
	backups, err := listBackups(dir)
	if err != nil {
		return nil, err
	}

	var removed []string
	var errs []error
	for _, path := range expired(backups, policy, now) {
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	if len(errs) > 0 {
		return removed, goerr.Wrap(errors.Join(errs...), "failed to delete some backups", goerr.V("dir", dir))
	}
	return removed, nil
}

func diskUsage(backups []Info) int64 {
	var total int64
	for _, b := range backups {
		total += b.Size
	}
	return total
}
