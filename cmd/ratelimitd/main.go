// Command ratelimitd serves per-tenant rate limiting over HTTP and
// administers tenant windows in Redis.
package main

import "github.com/manenim/tenant-rate-limiter/cmd/ratelimitd/cmd"

func main() {
	cmd.Execute()
}
