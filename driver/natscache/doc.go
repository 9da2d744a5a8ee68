// Package natscache provides a cachecore.CacheDriver on a NATS JetStream
// KeyValue bucket.
//
// Example:
//
//	nc, _ := nats.Connect(nats.DefaultURL)
//	js, _ := nc.JetStream()
//	kv, _ := js.CreateKeyValue(&nats.KeyValueConfig{Bucket: "cache", History: 1})
//	driver, err := natscache.New(natscache.Config{KeyValue: kv, Conn: nc})
package natscache
