package reporting

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultJournalPath returns results/trades_YYYYMMDD.xlsx for day
func DefaultJournalPath(day time.Time) string {
	return filepath.Join("results", "trades_"+day.UTC().Format("20060102")+".xlsx")
}

// EnsureDirectoryExists creates the parent directory of path
func EnsureDirectoryExists(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
