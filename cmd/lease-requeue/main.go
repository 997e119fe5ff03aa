// lease-requeue runs a single lease sweep: claimed journals whose lease has
// expired go back to the dispatch pool. The server does the same lazily on
// claim and optionally in a background sweeper (LEASE_SWEEP_ENABLED); this
// tool exists for ops use when the sweeper is disabled.
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/cyclecount_backend/config"
	"bitbucket.org/mmdatafocus/cyclecount_backend/workflow"
)

func main() {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	sweeper := workflow.NewLeaseSweeper(db, config.GetLogger())
	requeued, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Requeued %d expired journals\n", requeued)
}
