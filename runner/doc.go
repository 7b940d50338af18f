// Package runner drives one job through a bounded multi-turn exchange with a
// reasoning backend: send the transcript and tool catalogue, execute any
// requested tools, fold truncated results back into the transcript and repeat
// until the backend ends its turn, an error occurs or the iteration cap is
// reached. Outcomes are structured values; ordinary backend and tool failures
// never escape as errors - the worker decides what failure recovery does with
// a non-success outcome.
package runner
