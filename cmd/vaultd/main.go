package main

import (
	"context"
	"log"
	"os"

	"github.com/calcwerk/vaultcore/internal/buildinfo"
	"github.com/calcwerk/vaultcore/internal/config"
	"github.com/calcwerk/vaultcore/internal/vaultd"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := vaultd.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
