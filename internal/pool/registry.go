package pool

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mirageproxy/mirage/internal/domain"
)

// DefaultAccountID names the single-account fallback created from the
// configured standalone credential file when the accounts directory is
// empty or missing.
const DefaultAccountID = "default"

// credentialFileName is the bundle looked up inside per-account
// subdirectories of the accounts directory.
const credentialFileName = "credentials.json"

// LoadAccounts discovers account credential bundles under dir. Each
// *.json file becomes an account named after the file stem; each
// subdirectory containing credentials.json becomes an account named
// after the directory. Entries are visited in lexical order, which
// fixes the pool's stable selection order.
//
// A bundle that cannot be read or is not valid JSON is skipped with a
// warning: one bad account must not prevent the pool from serving
// others. When nothing loads from dir, fallbackFile (if set) is loaded
// as the single "default" account. Only a completely empty result is an
// error — that is fatal at startup.
func LoadAccounts(dir, fallbackFile string, logger *slog.Logger) ([]*domain.Account, error) {
	var accounts []*domain.Account

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read accounts directory %s: %w", dir, err)
		}
		logger.Warn("accounts directory does not exist", "dir", dir)
	}

	// os.ReadDir returns entries in lexical order already; that order
	// is what the selector's stable tie-break is anchored to.
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		var id, path string
		switch {
		case entry.IsDir():
			id = name
			path = filepath.Join(dir, name, credentialFileName)
			if _, statErr := os.Stat(path); statErr != nil {
				continue
			}
		case strings.EqualFold(filepath.Ext(name), ".json"):
			id = strings.TrimSuffix(name, filepath.Ext(name))
			path = filepath.Join(dir, name)
		default:
			continue
		}

		account, loadErr := loadAccountBundle(id, path)
		if loadErr != nil {
			logger.Warn("skipping unparseable credential bundle",
				"account_id", id,
				"path", path,
				"error", loadErr)
			continue
		}

		accounts = append(accounts, account)
		logger.Info("loaded account", "account_id", id, "path", path)
	}

	if len(accounts) == 0 && fallbackFile != "" {
		account, loadErr := loadAccountBundle(DefaultAccountID, fallbackFile)
		if loadErr != nil {
			logger.Warn("fallback credential bundle unusable",
				"path", fallbackFile,
				"error", loadErr)
		} else {
			accounts = append(accounts, account)
			logger.Info("loaded fallback account", "path", fallbackFile)
		}
	}

	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	return accounts, nil
}

func loadAccountBundle(id, path string) (*domain.Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential bundle: %w", err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("credential bundle is not valid JSON")
	}
	return domain.NewAccount(id, path, raw)
}
