package config

import "time"

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort             = 3000
	defaultEnv              = "development"
	defaultDBDriver         = DriverSQLite
	defaultSQLitePath       = "campus.db"
	defaultDBHost           = "127.0.0.1"
	defaultDBPort           = 3306
	defaultDBUser           = "root"
	defaultDBName           = "campus"
	defaultDBCharset        = "utf8mb4"
	defaultDBLoc            = "UTC"
	defaultRedisPort        = 6379
	defaultMongoDatabase    = "campus"
	defaultTokenTTL         = 24 * time.Hour
	defaultHandshakeTimeout = 10 * time.Second
	defaultSweepInterval    = time.Minute
	defaultRemoteTimeout    = 5 * time.Second
	defaultNamespace        = "/"
	defaultLoginPerMinute   = 10
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	ChatStoreSQL   = "sql"
	ChatStoreMongo = "mongo"

	RevocationAuto   = "auto"
	RevocationRedis  = "redis"
	RevocationMemory = "memory"

	VerifierLocal  = "local"
	VerifierRemote = "remote"

	EnvJWTSecret   = "CAMPUS_JWT_SECRET"
	EnvRedisURL    = "CAMPUS_REDIS_URL"
	EnvDatabaseDSN = "CAMPUS_DATABASE_DSN"
)
