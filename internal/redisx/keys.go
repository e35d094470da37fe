package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotent create order: idem:order:create:{key} -> order_id ("" while in flight)
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cached read models: view:{name} -> {"gen":n,"view":JSON}
	KeyView = "view:%s"
	// Invalidation counter per view: view:{name}:gen -> n
	KeyViewGen = "view:%s:gen"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	// in-flight claims outlive the API request timeout, nothing more
	TTLIdempotencyInFlight = 30 * time.Second
	TTLView        = 30 * time.Second
	TTLDedup       = 48 * time.Hour
)

func idemKey(key string) string          { return fmt.Sprintf(KeyIdemOrderCreate, key) }
func viewKey(name string) string         { return fmt.Sprintf(KeyView, name) }
func viewGenKey(name string) string      { return fmt.Sprintf(KeyViewGen, name) }
func dedupKey(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }
