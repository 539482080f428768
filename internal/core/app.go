package core

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pdellaert/fbw-installer/internal/config"
	"github.com/pdellaert/fbw-installer/internal/configuration"
	"github.com/pdellaert/fbw-installer/internal/db"
	"github.com/pdellaert/fbw-installer/internal/jobs"
	"github.com/pdellaert/fbw-installer/internal/plugins"
	"github.com/pdellaert/fbw-installer/internal/store"
	"github.com/pdellaert/fbw-installer/internal/util"
	"github.com/pdellaert/fbw-installer/internal/websocket"
)

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	config         *config.Config
	db             *sql.DB
	wsHub          *websocket.Hub
	jobManager     *jobs.JobManager
	store          *store.Store
	configStore    *configuration.Store
	installManager plugins.Installer
	appManager     *plugins.ApplicationManager
	Version        string
}

// New sets up and returns a new App instance. It handles loading the
// configuration, initializing the database connection, and running migrations.
func New() (*App, error) {
	// Load configuration from config.yml
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize the database connection
	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Run database migrations
	if err := db.RunMigrations(database, db.Migrations); err != nil {
		// We can't proceed without a valid database schema.
		// Close the DB connection before failing.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	app, err := NewWithDB(cfg, database)
	if err != nil {
		database.Close()
		return nil, err
	}

	log.Println("Core application setup complete.")
	return app, nil
}

// NewWithDB wires the application around an already migrated database.
// The websocket hub is created but not started.
func NewWithDB(cfg *config.Config, database *sql.DB) (*App, error) {
	root, err := ResolvePluginsRoot(cfg)
	if err != nil {
		return nil, err
	}

	verifier, err := NewVerifier(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		config:      cfg,
		db:          database,
		wsHub:       websocket.NewHub(),
		store:       store.New(database),
		configStore: configuration.NewStore(),
		Version:     "dev",
	}
	app.installManager = plugins.NewInstallManager(
		root,
		plugins.NewFetcher(time.Duration(cfg.Plugins.HTTPTimeout)*time.Second),
		verifier,
		plugins.WithHistory(app.store),
		plugins.WithEvents(app.wsHub),
		plugins.WithRequireSignature(cfg.Plugins.RequireSignature),
	)
	app.appManager = plugins.NewApplicationManager(app.configStore)
	app.jobManager = jobs.NewManager(app)
	jobs.RegisterJobs(app.jobManager)

	return app, nil
}

// ResolvePluginsRoot returns the configured plugins root, or the platform
// default, after checking it can be used.
func ResolvePluginsRoot(cfg *config.Config) (string, error) {
	root := cfg.Plugins.Path
	if root == "" {
		var err error
		root, err = plugins.PluginsRoot()
		if err != nil {
			return "", fmt.Errorf("failed to determine plugins directory: %w", err)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if err := util.ValidateFolderPath(root, cwd); err != nil {
		return "", fmt.Errorf("invalid plugins directory %q: %w", root, err)
	}
	return root, nil
}

// NewVerifier trusts plugins.public_key when set, the embedded release key otherwise.
func NewVerifier(cfg *config.Config) (*plugins.Verifier, error) {
	if cfg.Plugins.PublicKey == "" {
		return plugins.DefaultVerifier()
	}
	verifier, err := plugins.NewVerifierFromBase64(cfg.Plugins.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid plugins.public_key: %w", err)
	}
	return verifier, nil
}

func (a *App) Config() *config.Config                          { return a.config }
func (a *App) DB() *sql.DB                                     { return a.db }
func (a *App) WsHub() *websocket.Hub                           { return a.wsHub }
func (a *App) JobManager() *jobs.JobManager                    { return a.jobManager }
func (a *App) Store() *store.Store                             { return a.store }
func (a *App) ConfigStore() *configuration.Store               { return a.configStore }
func (a *App) InstallManager() plugins.Installer               { return a.installManager }
func (a *App) ApplicationManager() *plugins.ApplicationManager { return a.appManager }

// SetInstallManager replaces the install manager, e.g. with a test double.
func (a *App) SetInstallManager(im plugins.Installer) { a.installManager = im }

// Close gracefully closes the application's resources, like the DB connection.
func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
