package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ultrasoundlabs/untron-v3-indexer/internal/common"
)

var (
	// ErrAllEndpointsFailed is returned by the pool when every endpoint failed one call.
	ErrAllEndpointsFailed = errors.New("all rpc endpoints failed")

	// ErrNoHealthyEndpoints is returned when no configured URL passed the startup probe.
	ErrNoHealthyEndpoints = errors.New("no healthy rpc endpoints")

	// ErrBlockNotFound is returned when eth_getBlockByNumber yields null.
	ErrBlockNotFound = errors.New("block not found")
)

var (
	suggestedRangeRe = regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)
	tooManyResultsRe = regexp.MustCompile(`(?i)query returned more than \d+ results`)
	serverErrorRe    = regexp.MustCompile(`\b5\d\d\b`)
)

var rateLimitMarkers = []string{
	"429",
	"too many requests",
	"rate limit",
	"ratelimit",
	"exceeded the quota",
	"compute units per second",
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"broken pipe",
	"eof",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"temporarily unavailable",
	"connection pool",
	"no available connection",
}

var rangeTooLargeMarkers = []string{
	"range too large",
	"block range",
	"too many results",
	"response size exceeded",
	"query returned more than",
	"limit exceeded",
	"exceed maximum block range",
	"too many blocks",
	"response too large",
}

// IsRateLimitError reports whether err is a provider throttling response.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == 429 {
		return true
	}

	return containsAny(strings.ToLower(err.Error()), rateLimitMarkers)
}

// IsTransientError reports whether err looks like a network, timeout, throttling
// or 5xx failure that is likely to succeed on retry. Cancellation is never transient.
func IsTransientError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	if IsRateLimitError(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode >= 500 {
		return true
	}

	errStr := strings.ToLower(err.Error())
	if containsAny(errStr, transientMarkers) {
		return true
	}

	return serverErrorRe.MatchString(errStr) && strings.Contains(errStr, "http")
}

// IsRangeTooLargeError reports whether err is a provider refusing a getLogs window as too wide.
func IsRangeTooLargeError(err error) bool {
	if err == nil {
		return false
	}

	if ok, _ := IsTooManyResultsError(err); ok {
		return true
	}

	return containsAny(strings.ToLower(err.Error()), rangeTooLargeMarkers)
}

// IsTooManyResultsError checks if the error is an RPC "too many results" error (DataError with message in ErrorData).
func IsTooManyResultsError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		errData := fmt.Sprintf("%v", dataErr.ErrorData())
		return tooManyResultsRe.MatchString(errData) || tooManyResultsRe.MatchString(err.Error()), errData
	}

	return tooManyResultsRe.MatchString(err.Error()), err.Error()
}

// ParseSuggestedBlockRange attempts to extract the suggested block range from the error message.
// Returns the suggested fromBlock and toBlock, and true if successfully parsed.
// Expected format: "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc]."
func ParseSuggestedBlockRange(err string) (fromBlock, toBlock uint64, ok bool) {
	if err == "" {
		return 0, 0, false
	}

	matches := suggestedRangeRe.FindStringSubmatch(err)

	const expectedMatches = 3 // full match + 2 groups
	if len(matches) != expectedMatches {
		return 0, 0, false
	}

	from, err1 := common.ParseUint64orHex(&matches[1])
	to, err2 := common.ParseUint64orHex(&matches[2])

	if err1 != nil || err2 != nil || to < from {
		return 0, 0, false
	}

	return from, to, true
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
