package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Push message names as sent by the server.
const (
	MessageCreated = "task_created"
	MessageUpdated = "task_updated"
	MessageDeleted = "task_deleted"
)

// ChangeEvent is a server originated mutation. It is implemented by Created, Updated and Deleted only.
type ChangeEvent interface {
	TaskID() int64
	isChangeEvent()
}

type Created struct {
	Task Task
}

type Updated struct {
	Task Task
}

type Deleted struct {
	ID int64
}

func (e Created) TaskID() int64 { return e.Task.ID }
func (e Updated) TaskID() int64 { return e.Task.ID }
func (e Deleted) TaskID() int64 { return e.ID }

func (Created) isChangeEvent() {}
func (Updated) isChangeEvent() {}
func (Deleted) isChangeEvent() {}

// DeletedPayload is the body of a task_deleted message.
type DeletedPayload struct {
	ID int64 `json:"id"`
}

// MessageName returns the push message name used to announce the event.
func MessageName(ev ChangeEvent) string {
	switch ev.(type) {
	case Created:
		return MessageCreated
	case Updated:
		return MessageUpdated
	case Deleted:
		return MessageDeleted
	}
	return ""
}

// Payload returns the JSON body that announces the event on the wire.
func Payload(ev ChangeEvent) any {
	switch e := ev.(type) {
	case Created:
		return e.Task
	case Updated:
		return e.Task
	case Deleted:
		return DeletedPayload{ID: e.ID}
	}
	return nil
}

// Decode converts a named push message into a ChangeEvent.
// Unrecognised names return ErrUnknownMessage; a payload of the wrong shape returns a *DecodeError.
func Decode(name string, payload []byte) (ChangeEvent, error) {
	switch name {
	case MessageCreated, MessageUpdated:
		var t Task
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, &DecodeError{Message: name, Err: err}
		}
		if err := t.Validate(); err != nil {
			return nil, &DecodeError{Message: name, Err: err}
		}
		if name == MessageCreated {
			return Created{Task: t}, nil
		}
		return Updated{Task: t}, nil
	case MessageDeleted:
		var body struct {
			ID *int64 `json:"id"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, &DecodeError{Message: name, Err: err}
		}
		if body.ID == nil {
			return nil, &DecodeError{Message: name, Err: errors.New("missing id")}
		}
		if *body.ID <= 0 {
			return nil, &DecodeError{Message: name, Err: fmt.Errorf("task id must be positive, got %d", *body.ID)}
		}
		return Deleted{ID: *body.ID}, nil
	case "":
		return nil, &DecodeError{Err: errors.New("message has no name")}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, name)
}
