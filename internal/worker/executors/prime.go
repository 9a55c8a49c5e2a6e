// Package executors holds the one built-in task function shipped with
// this repo — a prime-counting sieve — used to make spec §8 scenario 1
// runnable end to end. Task payload semantics are explicitly out of scope
// for the core (spec §1); this executor exists only as a fixture, not as
// the subject of the design.
package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/distqueue/distqueue/internal/worker"
)

type primePayload struct {
	Limit int `json:"limit"`
}

type primeState struct {
	NextCandidate int   `json:"next_candidate"`
	Count         int   `json:"count"`
	Sieve         []int `json:"sieve,omitempty"`
}

// Prime counts primes <= payload.Limit using a checkpointable trial
// sieve, resuming from state.NextCandidate/Count when resume is set —
// the vehicle for spec §8 scenario 3 (crash mid-task, resume from
// checkpoint).
func Prime(checkpointEvery int) worker.Executor {
	if checkpointEvery <= 0 {
		checkpointEvery = 100000
	}
	return func(ctx context.Context, taskID uint64, payload, resume []byte, checkpoint worker.CheckpointFunc) (worker.Outcome, []byte, error) {
		var p primePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return worker.OutcomeFailed, []byte(fmt.Sprintf("invalid payload: %v", err)), nil
		}

		st := primeState{NextCandidate: 2, Count: 0}
		if len(resume) > 0 {
			if err := json.Unmarshal(resume, &st); err != nil {
				return worker.OutcomeFailed, []byte(fmt.Sprintf("invalid resume state: %v", err)), nil
			}
		}

		start := time.Now()
		primes := st.Sieve
		for n := st.NextCandidate; n <= p.Limit; n++ {
			select {
			case <-ctx.Done():
				return worker.OutcomeFailed, []byte("cancelled"), ctx.Err()
			default:
			}

			if isPrime(n, primes) {
				primes = append(primes, n)
				st.Count++
			}

			if n%checkpointEvery == 0 {
				st.NextCandidate = n + 1
				st.Sieve = primes
				blob, err := json.Marshal(st)
				if err != nil {
					return worker.OutcomeFailed, nil, err
				}
				if _, ok, err := checkpoint(blob, time.Since(start).Milliseconds()); err != nil {
					return worker.OutcomeFailed, nil, err
				} else if !ok {
					return worker.OutcomeFailed, []byte("lease lost"), nil
				}
			}
		}

		result, err := json.Marshal(map[string]int{"count": st.Count})
		if err != nil {
			return worker.OutcomeFailed, nil, err
		}
		return worker.OutcomeSuccess, result, nil
	}
}

// isPrime trial-divides n by the primes found so far, falling back to
// divisor-by-divisor trial division once n exceeds the square of the
// largest known prime (only matters for the first handful of candidates).
func isPrime(n int, knownPrimes []int) bool {
	if n < 2 {
		return false
	}
	next := 2
	for _, p := range knownPrimes {
		if p*p > n {
			return true
		}
		if n%p == 0 {
			return false
		}
		next = p + 1
	}
	for d := next; d*d <= n; d++ {
		if n%d == 0 {
			return false
		}
	}
	return true
}
