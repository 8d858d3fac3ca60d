// migrate applies the embedded SQL migrations: go run ./cmd/migrate -direction up.
package main

import (
	"flag"
	"fmt"
	"os"

	"refreshguard/internal/config"
	"refreshguard/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	dsn, err := config.LoadDatabaseURL()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := migrate.Run(dsn, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	version, dirty, err := migrate.Version(dsn)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate version:", err)
		os.Exit(1)
	}
	fmt.Printf("schema version %d (dirty=%v)\n", version, dirty)
}
