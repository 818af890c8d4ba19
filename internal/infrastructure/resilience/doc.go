/*
Package resilience provides failure isolation for calls to remote endpoints.

# Overview

This package implements a three-state circuit breaker that stops issuing
calls to a specific key once it has failed repeatedly, and periodically
probes for recovery. A per-key registry hands out breakers so that each
remote endpoint is isolated independently.

# Features

- Three-state circuit breaker (Closed, Open, Half-Open)
- Consecutive-failure threshold opens, consecutive-success threshold closes
- Open-to-half-open transition checked at call time, no background timer
- Counters fully reset on every state transition
- No lock held across the guarded operation
- State change callbacks for monitoring
- Per-key breaker registry with lazy creation

# Usage

	// Create a breaker table shared by all remote calls
	registry := resilience.NewRegistry(resilience.Settings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			log.Printf("breaker %s: %s -> %s", name, from, to)
		},
	})

	// Guard an operation by its endpoint key
	result, err := registry.Execute("root@10.0.0.5:22", func() (interface{}, error) {
		return client.Call()
	})

# States

- Closed: Normal operation, requests pass through, consecutive failures counted
- Open: Requests rejected immediately with CIRCUIT_OPEN, nothing is attempted
- Half-Open: Probe requests allowed; one failure re-opens, enough successes close

# Pattern

The circuit breaker transitions between states based on call outcomes:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
