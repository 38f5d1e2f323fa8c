package main

import (
	"context"
	"flag"
	"fmt"
	"kis_trader/internal/modules/storage/service/sqlite"
	"kis_trader/pkg/db"
	"kis_trader/pkg/logger"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

func readConfig(file string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(file)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.sqlite_path", "kis_trader.db")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		v.Set("storage.db_dsn", dsn)
	}
	return v, nil
}

func migrate(ctx context.Context, v *viper.Viper) error {
	switch driver := v.GetString("storage.driver"); driver {
	case "sqlite":
		store, err := sqlite.New(ctx, v.GetString("storage.sqlite_path"))
		if err != nil {
			return errors.Wrap(err, "open sqlite")
		}
		return store.Close()
	case "postgres":
		pool, err := db.NewPool(ctx, db.PoolConfig{DSN: v.GetString("storage.db_dsn"), MaxConns: 1})
		if err != nil {
			return errors.Wrap(err, "connect postgres")
		}
		tx := db.NewPgTxManager(pool)
		defer tx.Close()
		return errors.Wrap(tx.Migrate(ctx), "apply migrations")
	default:
		return fmt.Errorf("unknown storage.driver %q", driver)
	}
}

func main() {
	file := flag.String("config", "configs/values_local.yaml", "config file")
	list := flag.Bool("list", false, "print embedded migrations and exit")
	flag.Parse()

	if err := logger.Init("development"); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *list {
		names, err := db.Migrations()
		if err != nil {
			logger.Fatal("list migrations: %v", err)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return
	}

	v, err := readConfig(*file)
	if err != nil {
		logger.Fatal("%v", err)
	}
	if err := migrate(context.Background(), v); err != nil {
		logger.Fatal("%v", err)
	}
	fmt.Println("done")
}
