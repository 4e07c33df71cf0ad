// Package di wires the portal's components with samber/do.
package di

import (
	"log/slog"

	"github.com/samber/do/v2"

	"library-portal/internal/config"
	"library-portal/internal/logger"
	"library-portal/library"
)

// NewContainer creates the DI container. flags carries command-line overrides
// for the configuration.
func NewContainer(flags config.Flags) *do.RootScope {
	injector := do.New()

	do.ProvideValue(injector, flags)

	// Core infrastructure
	do.Provide(injector, ProvideConfig)
	do.Provide(injector, ProvideLogger)

	// Local storage
	do.Provide(injector, ProvideDatabase)
	do.Provide(injector, ProvideTokenStore)

	// Clients and views
	do.Provide(injector, ProvideManager)

	return injector
}

// ProvideConfig loads the configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	return config.Load(do.MustInvoke[config.Flags](i))
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*slog.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	format := logger.FormatPretty
	if cfg.IsProduction() {
		format = logger.FormatJSON
	}
	log := logger.New(logger.Config{
		Format:      format,
		Level:       logger.ParseLevel(cfg.Logger.Level),
		Environment: cfg.App.Environment,
	})
	log.Debug("configuration loaded",
		"environment", cfg.App.Environment,
		"api_url", cfg.API.BaseURL,
		"graphql_url", cfg.API.GraphQLURL,
		"ws_url", cfg.API.WebSocketURL,
		"db_path", cfg.Storage.DBPath,
	)
	return log, nil
}

// DatabaseHandle wraps the local database with shutdown capability.
type DatabaseHandle struct {
	*library.Database
}

// Shutdown implements do.Shutdownable.
func (h *DatabaseHandle) Shutdown() error {
	return h.Close()
}

// ProvideDatabase opens the local SQLite database.
func ProvideDatabase(i do.Injector) (*DatabaseHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)

	db, err := library.NewDatabase(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	return &DatabaseHandle{Database: db}, nil
}

// ProvideTokenStore provides the persistent token store.
func ProvideTokenStore(i do.Injector) (library.TokenStore, error) {
	db := do.MustInvoke[*DatabaseHandle](i)
	return library.NewSQLiteTokenStore(db.Database), nil
}

// ManagerHandle wraps the manager with shutdown capability.
type ManagerHandle struct {
	*library.LibraryManager
}

// Shutdown implements do.Shutdownable.
func (h *ManagerHandle) Shutdown() error {
	return h.Close()
}

// ProvideManager builds the clients and views around one session.
func ProvideManager(i do.Injector) (*ManagerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	store := do.MustInvoke[library.TokenStore](i)

	mgr, err := library.NewLibraryManager(library.ManagerOptions{
		Store:       store,
		APIURL:      cfg.API.BaseURL,
		GraphQLURL:  cfg.API.GraphQLURL,
		WSURL:       cfg.API.WebSocketURL,
		HTTPTimeout: cfg.API.Timeout,
		Subscription: library.SubscriptionOptions{
			RetryAttempts: cfg.API.WSRetryAttempts,
		},
		StudentPageSize: cfg.Views.StudentPageSize,
		BooksPageSize:   cfg.Views.BooksPageSize,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}
	return &ManagerHandle{LibraryManager: mgr}, nil
}
