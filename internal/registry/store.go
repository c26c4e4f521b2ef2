package registry

import (
	"fmt"

	"licensekit/internal/config"
)

// OpenStore opens the backend selected in cfg
func OpenStore(cfg config.RegistryConfig) (Store, error) {
	switch cfg.Backend {
	case config.RegistryBackendFile, "":
		return NewFileStore(cfg.Path), nil
	case config.RegistryBackendSQLite:
		return OpenSQLite(cfg.DatabasePath)
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
	}
}
