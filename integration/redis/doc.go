// Package redis connects to Redis and mirrors login snapshots into it.
//
//   - Connect: creates a client, verifying connectivity with retries and exponential backoff
//   - Healthcheck: readiness probe pinging the client
//   - Mirror: stores the latest snapshot under a key and publishes every snapshot on a channel
//
// Configuration comes from the environment through Config (REDIS_URL,
// REDIS_RETRY_ATTEMPTS, REDIS_RETRY_INTERVAL, REDIS_CONNECT_TIMEOUT,
// REDIS_MIRROR_KEY, REDIS_MIRROR_CHANNEL, REDIS_MIRROR_TTL). Both redis://
// and rediss:// URLs are accepted.
//
// Usage:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	mirror := redis.NewMirror(client, cfg)
//	go mirror.Run(ctx, hub.State().Subscribe())
//
// Errors can be matched with errors.Is: ErrFailedToParseRedisConnString,
// ErrRedisNotReady, ErrEmptyConnectionURL, ErrHealthcheckFailed.
package redis
