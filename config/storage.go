package config

import "sync"

var (
	storageOnce sync.Once
	storageType string
)

// GetStorageType returns the object store used for job inputs and results
// ("s3" or "minio").
func GetStorageType() string {
	storageOnce.Do(func() {
		loadEnv()
		storageType = getEnv("STORAGE_TYPE", "minio")
	})
	return storageType
}
