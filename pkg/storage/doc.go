// Package storage opens the PostgreSQL and Redis connections the security
// core runs on.
//
// # PostgreSQL
//
// ConnectionManager keeps a primary pool for writes (permission grants) and
// optional read replicas for user, organization and permission lookups:
//
//	cm, err := storage.NewConnectionManager(ctx, storage.ConnectionConfig{
//		PrimaryURL:  "postgres://agora@db/agora?sslmode=disable",
//		ReplicaURLs: storage.ParseReplicaURLs(os.Getenv("AGORA_DATABASE_REPLICA_URLS")),
//		MaxConns:    20,
//	}, logger)
//	users := auth.NewPostgresUserStore(cm.Replica())
//
// Reads fall back to the primary when no replica is reachable.
//
// # Redis
//
// NewRedisClient returns the client shared by session.RedisStore and
// ratelimit.Limiter. It fails fast when Redis cannot be reached.
package storage
