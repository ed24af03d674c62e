// Package blob re-exports core blob abstractions for stable imports and
// provides the env-driven driver factory.
package blob

import (
	"context"
	"fmt"
	"os"

	"kintree/internal/blob/core"
	"kintree/internal/infra/blob/fs"
	"kintree/internal/infra/blob/memory"
	"kintree/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

// ErrUnsupported indicates an operation isn't supported by a driver.
var ErrUnsupported = core.ErrUnsupported

// LocalURLBase is the URL base of locally stored blobs.
const LocalURLBase = core.LocalURLBase

// Open selects a blob.Store implementation using environment variables.
//
//	KINTREE_BLOB_DRIVER: fs|s3|memory (default fs)
//	KINTREE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in the s3 driver)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("KINTREE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		root := os.Getenv("KINTREE_BLOB_FS_ROOT")
		return fs.New(root)
	case DriverS3:
		return s3.OpenFromEnv(ctx)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
