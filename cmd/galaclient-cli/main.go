package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"galaclient-backend/cmd/galaclient-cli/cmd"
	"galaclient-backend/lib/configutil"
	"galaclient-backend/lib/serviceutil"
	"galaclient-backend/lib/telemetry"
	"galaclient-backend/services/galaxy"
)

type Config struct {
	CacheDir string `json:"cache_dir"`
}

const cookieFileName = "cookies.json"

func main() {
	ctx := serviceutil.SignalContext()

	telemetry.SetupFromEnv(ctx, "galaclient-cli")
	telemetry.InitSlog(false)
	telemetry.InstrumentPerfStats(ctx)

	config, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		serviceutil.Fatal("failed to read config", err)
	}
	if config.CacheDir == "" {
		config.CacheDir = ".galaclient"
	}
	cookieFile := filepath.Join(config.CacheDir, cookieFileName)

	service, err := galaxy.NewService(ctx, galaxy.Options{
		CacheDir: config.CacheDir,
		StoreCredentials: func(ctx context.Context, cookies map[string]string) error {
			return cmd.SaveCookies(cookieFile, cookies)
		},
		OpenUrl: func(ctx context.Context, rawUrl string) error {
			_, err := fmt.Println(rawUrl)
			return err
		},
	})
	if err != nil {
		serviceutil.Fatal("failed to initialize the client", err)
	}
	defer service.Shutdown(context.Background(), false)

	cmd.ExecuteContext(ctx, service, cookieFile)
}
