// Package redisstream provides a Redis Streams sink for xevent dead events and
// handler failures.
//
// Sink name: "redis-streams"
//
// Config keys:
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - username, password, db
//   - tls, tls_server_name
//   - stream: stream records are appended to (default "xevent:dead")
//   - max_len_approx: approximate MAXLEN trimming (default 0 = unbounded)
//   - timeout: write timeout when the context has no deadline (default 5s)
//
// Example builder usage:
//
//	bus, _ := xevent.NewBusBuilder().
//	    WithSink(redisstream.SinkName, map[string]any{
//	        "addr":           "localhost:6379",
//	        "stream":         "payments:dead",
//	        "max_len_approx": int64(100000),
//	    }).
//	    Build()
package redisstream
