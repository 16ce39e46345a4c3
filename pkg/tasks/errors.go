package tasks

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMessage is returned by Decode for message names it does not recognise.
	ErrUnknownMessage = errors.New("unknown message")

	ErrNotFound = errors.New("task not found")
)

// TransportError reports a lost connection or a failed request.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	target := e.Op
	if e.URL != "" {
		target += " " + e.URL
	}
	if e.StatusCode != 0 {
		if e.Err == nil {
			return fmt.Sprintf("%s: unexpected status code %d", target, e.StatusCode)
		}
		return fmt.Sprintf("%s: unexpected status code %d: %v", target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a push message whose payload could not be parsed.
type DecodeError struct {
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("failed to decode message: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode %s: %v", e.Message, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StaleFetchError reports a refresh that kept being overtaken by newer change events.
type StaleFetchError struct {
	Attempts int
}

func (e *StaleFetchError) Error() string {
	return fmt.Sprintf("fetch superseded by newer events %d times", e.Attempts)
}
