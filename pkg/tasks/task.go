// Package tasks holds the records shared by the push channel, the reconciler and the REST layer.
package tasks

import (
	"fmt"
	"strings"
)

// Task is the unit of work tracked by the server. ID is assigned by the server and never changes.
type Task struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Completed     bool    `json:"completed"`
	DueDate       *string `json:"due_date,omitempty"`
	AssigneeEmail *string `json:"assignee_email,omitempty"`
}

func (t Task) Validate() error {
	if t.ID <= 0 {
		return fmt.Errorf("task id must be positive, got %d", t.ID)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task %d has an empty title", t.ID)
	}
	return nil
}

// Draft carries the fields accepted when creating a task.
type Draft struct {
	Title         string  `json:"title"`
	DueDate       *string `json:"due_date,omitempty"`
	AssigneeEmail *string `json:"assignee_email,omitempty"`
}

func (d Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Title         *string `json:"title,omitempty"`
	Completed     *bool   `json:"completed,omitempty"`
	DueDate       *string `json:"due_date,omitempty"`
	AssigneeEmail *string `json:"assignee_email,omitempty"`
}

func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Completed == nil && p.DueDate == nil && p.AssigneeEmail == nil
}

// ApplyTo returns a copy of t with the patch merged in.
func (p Patch) ApplyTo(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.DueDate != nil {
		t.DueDate = optional(*p.DueDate)
	}
	if p.AssigneeEmail != nil {
		t.AssigneeEmail = optional(*p.AssigneeEmail)
	}
	return t
}

// String returns a pointer to s, or nil when s is blank.
func String(s string) *string {
	return optional(s)
}

func Bool(b bool) *bool {
	return &b
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
