package errors_test

import (
	"fmt"

	"github.com/agentstation/syncledger/pkg/errors"
)

// Example demonstrates basic error creation and checking.
func Example() {
	err := errors.NewNotFoundError("conflict", "c-42")

	if errors.IsNotFound(err) {
		fmt.Println("Resource not found")
	}

	// Output: Resource not found
}

// Example_transitionError shows how a rejected state change is reported.
func Example_transitionError() {
	err := errors.NewTransitionError("conflict", "c-42", "RESOLVED", "IGNORED")

	if errors.IsAlreadyResolved(err) {
		fmt.Println(err.Error())
	}

	// Output: conflict c-42 already resolved (status RESOLVED), cannot move to IGNORED
}

// Example_validationError shows input validation errors.
func Example_validationError() {
	err := errors.NewValidationError("engagement_score", 140, "must be between 0 and 100")
	fmt.Println(err.Error())

	// Output: validation failed for field engagement_score: must be between 0 and 100
}

// Example_errorWrapping demonstrates wrapping a store failure inside a resource error.
func Example_errorWrapping() {
	storeErr := errors.WrapStore("update", "sync_runs", fmt.Errorf("database is locked"))
	err := errors.WrapResource("complete", "sync_run", "run-7", storeErr)

	var se *errors.StoreError
	if errors.As(err, &se) {
		fmt.Printf("store failed during %s on %s\n", se.Operation, se.Table)
	}
	fmt.Println(errors.Is(err, errors.ErrStoreUnavailable))

	// Output:
	// store failed during update on sync_runs
	// true
}

// Example_syncError shows the error a failed sync surfaces to its caller.
func Example_syncError() {
	err := errors.NewSyncError("run-9", "hotmart", errors.New("api down"))
	fmt.Println(err.Error())

	// Output: sync error for hotmart run run-9: api down
}
