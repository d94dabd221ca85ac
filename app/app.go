// Package app wires the application together: CLI, configuration, logging
// and the execution environment.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"

	cfg "go.hackfix.me/fwguard/app/config"
	actx "go.hackfix.me/fwguard/app/context"
	"go.hackfix.me/fwguard/cli"
)

// App is the application.
type App struct {
	name string
	ctx  *actx.Context
	cli  *cli.CLI
	// the logging level is set via the CLI, if the app was initialized with
	// the WithLogger option.
	logLevel *slog.LevelVar
}

// New initializes a new application.
func New(name, configFilePath, dataDir string, opts ...Option) (*App, error) {
	version, err := actx.GetVersion()
	if err != nil {
		return nil, err
	}

	defaultCtx := &actx.Context{
		Ctx:     context.Background(),
		FS:      memoryfs.New(),
		Logger:  slog.Default(),
		TimeNow: time.Now,
		DataDir: dataDir,
		Version: version,
	}
	app := &App{name: name, ctx: defaultCtx}

	for _, opt := range opts {
		opt(app)
	}

	ver := fmt.Sprintf("%s %s", app.name, app.ctx.Version.String())
	app.cli, err = cli.New(app.name, configFilePath, dataDir, ver)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Run initializes the application environment and starts execution of the
// application.
func (app *App) Run(args []string) error {
	if err := app.cli.Parse(args); err != nil {
		return err
	}

	if app.logLevel != nil {
		app.logLevel.Set(app.cli.Log.Level)
		slog.SetLogLoggerLevel(app.cli.Log.Level)
	}

	config := cfg.NewConfig(app.ctx.FS, app.cli.ConfigFile)
	if err := config.Load(); err != nil {
		return err
	}
	config.SetDefaults()
	app.ctx.Config = config
	app.ctx.DataDir = app.cli.DataDir

	return app.cli.Execute(app.ctx)
}
