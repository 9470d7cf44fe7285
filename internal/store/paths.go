package store

import (
	"path/filepath"

	"github.com/nvandessel/rmpgen/internal/constants"
)

// LedgerPath returns where the ledger for a property directory lives.
// configured overrides the default file name; a relative value is resolved
// against baseDir.
func LedgerPath(baseDir, configured string) string {
	if configured == "" {
		return filepath.Join(baseDir, constants.LedgerFileName)
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(baseDir, configured)
}
