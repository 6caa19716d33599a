// Package redis implements store.Store on Redis through go-redis/v9.
//
// Entities are stored as Hashes. Claim candidates live in a Sorted Set
// scored by due time, and every conditional transition (claim, submit,
// release, complete, invalidate, dequeue) runs as one Lua script, so it is
// atomic against every other client of the same Redis.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
