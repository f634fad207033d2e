package main

import (
	"embed"
	"log/slog"
	"os"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"github.com/chazu/millwright/pkg/config"
)

//go:embed all:frontend/dist
var assets embed.FS

// configEnv names the environment variable holding the config file path.
const configEnv = "MILLWRIGHT_CONFIG"

func main() {
	cfg := config.Default()
	if path := os.Getenv(configEnv); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			slog.Error("load config", "path", path, "error", err)
			os.Exit(1)
		}
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	app := NewApp(cfg, log)
	err := wails.Run(&options.App{
		Title:     "Millwright",
		Width:     1280,
		Height:    800,
		MinWidth:  800,
		MinHeight: 600,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind: []interface{}{
			app,
		},
	})
	if err != nil {
		log.Error("wails", "error", err)
		os.Exit(1)
	}
}
