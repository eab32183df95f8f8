package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/courierlink/courier/internal/config"
	"github.com/courierlink/courier/internal/daemon"
	"github.com/courierlink/courier/internal/profile"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.courier/config.toml)")
	flag.Parse()

	path := *configFlag
	if path == "" {
		path = profile.ConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "error: load config %s: %v\n", path, err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	app := fx.New(
		daemon.Module(daemon.Params{Config: cfg}),
	)

	app.Run()
}
