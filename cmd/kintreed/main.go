// kintreed serves the family tree API. Configuration comes from environment
// variables, optionally loaded from a .env file:
//
//	KINTREE_PORT            listen port (default 8080)
//	KINTREE_JWT_SECRET      HMAC secret for bearer tokens (required)
//	KINTREE_STORE_DRIVER    memory|sqlite|postgres (default sqlite)
//	KINTREE_SQLITE_PATH     sqlite database path (default kintree.db)
//	KINTREE_POSTGRES_DSN    postgres connection string
//	KINTREE_BLOB_DRIVER     fs|s3|memory (default fs)
//	KINTREE_ASSET_BASE_URL  public base URL for stored images
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"kintree/internal/blob"
	"kintree/internal/family"
	"kintree/internal/httpapi"
	"kintree/internal/infra/persistence/memory"
	"kintree/internal/infra/persistence/postgres"
	"kintree/internal/infra/persistence/sqlite"
	"kintree/pkg/domain"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()

	secret := os.Getenv("KINTREE_JWT_SECRET")
	if secret == "" {
		log.Fatal("KINTREE_JWT_SECRET is required")
	}

	store, err := openStore()
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	blobStore, err := blob.Open(ctx)
	if err != nil {
		log.Fatalf("open blob store: %v", err)
	}

	opts := []family.Option{
		family.WithLogger(logger),
		family.WithMetrics(family.NewMetrics(prometheus.DefaultRegisterer)),
	}
	if base := os.Getenv("KINTREE_ASSET_BASE_URL"); base != "" {
		resolver, err := family.NewAssetResolver(base, blob.LocalURLBase)
		if err != nil {
			log.Fatalf("asset base: %v", err)
		}
		opts = append(opts, family.WithAssetResolver(resolver))
	}

	svc := family.NewService(store, blobStore, opts...)
	svc.Refresh(ctx)

	port := os.Getenv("KINTREE_PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpapi.NewServer(svc, []byte(secret), logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	logger.Info("listening", "addr", srv.Addr, "store", storeDriver(), "blob", blobStore.Driver())
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

func storeDriver() string {
	driver := os.Getenv("KINTREE_STORE_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	return driver
}

func openStore() (domain.MemberStore, error) {
	switch storeDriver() {
	case "memory":
		return memory.NewStore(nil), nil
	case "sqlite":
		return sqlite.NewStore(os.Getenv("KINTREE_SQLITE_PATH"), nil)
	case "postgres":
		return postgres.NewStore(os.Getenv("KINTREE_POSTGRES_DSN"), nil)
	default:
		return nil, fmt.Errorf("unknown store driver %s", storeDriver())
	}
}
