package config

type StorageBackend string

const (
	StorageFile   StorageBackend = "file"
	StorageMemory StorageBackend = "memory"
	StorageRedis  StorageBackend = "redis"
)

type StorageConfig interface {
	GetStorageBackend() StorageBackend
	GetStorageSecret() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetStorageBackend() StorageBackend {
	return StorageBackend(GetEnv("CHAT_STORAGE", string(StorageFile)))
}

// GetStorageSecret returns the secret used to encrypt the file store at rest.
// An empty secret stores plain JSON.
func (Storage) GetStorageSecret() string {
	return GetEnv("CHAT_STORAGE_SECRET", "")
}

func (Storage) GetRedisAddr() string {
	return GetEnv("CHAT_REDIS_ADDR", "localhost:6379")
}

func (Storage) GetRedisPassword() string {
	return GetEnv("CHAT_REDIS_PASSWORD", "")
}

func (Storage) GetRedisDB() int {
	return GetEnvInt("CHAT_REDIS_DB", 0)
}

func (Storage) GetRedisPrefix() string {
	return GetEnv("CHAT_REDIS_PREFIX", "chat:")
}
