// Package redis connects to the Redis instance that backs the shared login
// rate limit.
//
// Connect validates the URL, then pings with a doubling backoff until the
// server answers or ConnectTimeout elapses:
//
//	client, err := redis.Connect(ctx, redis.Config{ConnectionURL: "redis://localhost:6379/0"})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Only redis:// and rediss:// URLs are accepted.
package redis
