// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fyteclub/syncshell"
	"github.com/fyteclub/syncshell/config"
	"github.com/fyteclub/syncshell/internal/obslog"
)

var (
	flagDataDir    string
	flagConfigFile string
	flagEnvFile    string
	flagLogLevel   string
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(flagConfigFile, flagEnvFile)
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) obslog.Logger {
	level := obslog.InfoLevel
	switch cfg.Logging.Level {
	case "debug":
		level = obslog.DebugLevel
	case "warn":
		level = obslog.WarnLevel
	case "error":
		level = obslog.ErrorLevel
	}
	return obslog.New(os.Stderr, level)
}

// openRuntime builds a Runtime rooted at the resolved data directory,
// generating a local master.key on first run to encrypt identity.key at
// rest. See DESIGN.md's Open Question #5: a standalone CLI has no host
// application to supply OS-protected key material, so it keeps its own.
func openRuntime() (*syncshell.Runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	passphrase, err := loadOrCreateMasterKey(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	return syncshell.NewRuntime(cfg, passphrase, newLogger(cfg))
}

func loadOrCreateMasterKey(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, "master.key")
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

// exitCode maps a returned error onto the CLI exit codes: 0 success, 2
// invalid argument, 3 crypto failure, 4 not found, 5 transport failure.
// Anything not promoted to a *syncshell.Error exits 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var serr *syncshell.Error
	if errors.As(err, &serr) {
		switch serr.Kind {
		case syncshell.ErrProtocol:
			return 2
		case syncshell.ErrCrypto:
			return 3
		case syncshell.ErrNotFound:
			return 4
		case syncshell.ErrTransport:
			return 5
		}
	}
	return 1
}
