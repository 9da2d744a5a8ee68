package cachecore

// Driver identifies cache backend.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
	DriverSQL    Driver = "sql"
	DriverNATS   Driver = "nats"
)
