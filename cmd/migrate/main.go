package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/joho/godotenv"
)

const serviceName = "storefront-migrate"

type options struct {
	command  string
	dir      string
	name     string
	version  string
	embedded bool
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.command, "cmd", "up", "up | down | status | version | create | validate")
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target YYYYMMDDHHMMSS for -cmd=version")
	flag.BoolVar(&opts.embedded, "embedded", false, "use the migrations compiled into this binary instead of -dir")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := runOffline(opts); err != errNeedsDB {
		exit(logg, opts, err)
	}

	cfg, err := config.Load()
	if err != nil {
		exit(logg, opts, fmt.Errorf("loading config: %w", err))
	}
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	exit(logg, opts, runOnline(cfg, logg, opts))
}

var errNeedsDB = errors.New("command needs a database")

// runOffline handles the commands that only touch migration files.
func runOffline(opts options) error {
	switch opts.command {
	case "create":
		if opts.name == "" {
			return errors.New("-name is required for create")
		}
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	case "validate":
		var err error
		if opts.embedded {
			err = migrate.ValidateEmbedded()
		} else {
			err = migrate.ValidateDir(opts.dir)
		}
		if err != nil {
			return err
		}
		fmt.Println("migrations ok")
		return nil
	default:
		return errNeedsDB
	}
}

func runOnline(cfg *config.Config, logg *logger.Logger, opts options) error {
	if cfg.DB.IsSQLite() {
		return fmt.Errorf("goose migrations target postgres; %s=%s uses model auto-migration", config.EnvDBDriver, config.DBDriverSQLite)
	}

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": opts.command,
		"dir": opts.dir,
	})

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer client.Close()

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	fsys, err := opts.source()
	if err != nil {
		return err
	}

	logg.Info(ctx, "migrate.start")
	if err := apply(ctx, sqlDB, fsys, opts, logg); err != nil {
		return err
	}
	logg.Info(ctx, "migrate.done")
	return nil
}

func (o options) source() (fs.FS, error) {
	if o.embedded {
		return migrate.EmbeddedFS()
	}
	return os.DirFS(o.dir), nil
}

func apply(ctx context.Context, sqlDB *sql.DB, fsys fs.FS, opts options, logg *logger.Logger) error {
	switch opts.command {
	case "up", "down", "status":
		return migrate.Run(ctx, sqlDB, fsys, opts.command, logg)
	case "version":
		if opts.version == "" {
			return errors.New("-version is required for version")
		}
		return migrate.MigrateToVersion(ctx, sqlDB, fsys, opts.version, logg)
	default:
		return fmt.Errorf("unknown -cmd %q", opts.command)
	}
}

func exit(logg *logger.Logger, opts options, err error) {
	if err == nil {
		os.Exit(0)
	}
	logg.Error(logg.WithField(context.Background(), "cmd", opts.command), "migrate failed", err)
	os.Exit(1)
}
