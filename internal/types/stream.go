package types

import (
	"fmt"
	"strings"
)

// Stream identifies one of the two event-chain contracts the indexer tails.
type Stream string

const (
	// StreamHub is the hub contract on the EVM chain.
	StreamHub Stream = "hub"

	// StreamController is the controller contract on the Tron-family chain.
	StreamController Stream = "controller"
)

// AllStreams lists the streams in startup order.
var AllStreams = []Stream{StreamHub, StreamController}

// String returns the string representation of Stream.
func (s Stream) String() string {
	return string(s)
}

// IsValid checks if the Stream value is valid.
func (s Stream) IsValid() bool {
	switch s {
	case StreamHub, StreamController:
		return true
	default:
		return false
	}
}

// UsesTronAddresses reports whether the stream renders addresses as Tron base58check.
func (s Stream) UsesTronAddresses() bool {
	return s == StreamController
}

// ParseStream parses a string into a Stream type.
func ParseStream(s string) (Stream, error) {
	st := Stream(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("invalid stream: %s (must be one of: hub, controller)", s)
	}
	return st, nil
}

// StreamSelection is the INDEXER_STREAM setting.
type StreamSelection string

const (
	SelectHub        StreamSelection = "hub"
	SelectController StreamSelection = "controller"
	SelectAll        StreamSelection = "all"
)

// ParseStreamSelection parses INDEXER_STREAM. An empty value selects all configured streams.
func ParseStreamSelection(s string) (StreamSelection, error) {
	v := StreamSelection(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case "":
		return SelectAll, nil
	case SelectHub, SelectController, SelectAll:
		return v, nil
	default:
		return "", fmt.Errorf("invalid stream selection: %s (must be one of: hub, controller, all)", s)
	}
}

// Includes reports whether the selection enables the given stream.
func (sel StreamSelection) Includes(s Stream) bool {
	return sel == SelectAll || string(sel) == string(s)
}
