// internal/model/model.go
// Package model defines tiltboard's domain entities and their enums.
package model

import (
	"fmt"
	"time"
)

// Role determines what a user may do.
type Role string

const (
	// RoleAdmin manages machines, users, and everything below.
	RoleAdmin Role = "admin"
	// RoleTech works issues: assignment and status transitions.
	RoleTech Role = "tech"
	// RolePlayer files issues and comments.
	RolePlayer Role = "player"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleTech, RolePlayer:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// CanTriage reports whether the role may assign issues and change status.
func (r Role) CanTriage() bool {
	return r == RoleAdmin || r == RoleTech
}

// NotifyPref controls which issue events a user is emailed about.
type NotifyPref string

const (
	// NotifyAll - every issue event on subscribed machines.
	NotifyAll NotifyPref = "all"
	// NotifyAssigned - only events on issues assigned to the user.
	NotifyAssigned NotifyPref = "assigned"
	// NotifyNone - no email.
	NotifyNone NotifyPref = "none"
)

// ParseNotifyPref validates a notification preference string.
func ParseNotifyPref(s string) (NotifyPref, error) {
	switch NotifyPref(s) {
	case NotifyAll, NotifyAssigned, NotifyNone:
		return NotifyPref(s), nil
	}
	return "", fmt.Errorf("unknown notification preference %q", s)
}

// User is an account. PasswordHash is empty for OAuth-only accounts.
type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         Role       `json:"role"`
	NotifyPref   NotifyPref `json:"notify_pref"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// MachineStatus is the operational state of a pinball machine.
type MachineStatus string

const (
	MachineActive   MachineStatus = "active"
	MachineInRepair MachineStatus = "in_repair"
	MachineRetired  MachineStatus = "retired"
)

// ParseMachineStatus validates a machine status string.
func ParseMachineStatus(s string) (MachineStatus, error) {
	switch MachineStatus(s) {
	case MachineActive, MachineInRepair, MachineRetired:
		return MachineStatus(s), nil
	}
	return "", fmt.Errorf("unknown machine status %q", s)
}

// Machine is a pinball machine on location.
type Machine struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Manufacturer string        `json:"manufacturer,omitempty"`
	Location     string        `json:"location,omitempty"`
	Status       MachineStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Severity grades how badly an issue affects play.
type Severity string

const (
	// SeverityLow - cosmetic or minor; machine plays fine.
	SeverityLow Severity = "low"
	// SeverityPlayable - noticeable fault, machine still playable.
	SeverityPlayable Severity = "playable"
	// SeverityUnplayable - machine should be taken out of rotation.
	SeverityUnplayable Severity = "unplayable"
)

// ParseSeverity validates a severity string.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityPlayable, SeverityUnplayable:
		return Severity(s), nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// IssueStatus is the workflow state of an issue.
type IssueStatus string

const (
	IssueOpen       IssueStatus = "open"
	IssueInProgress IssueStatus = "in_progress"
	IssueFixed      IssueStatus = "fixed"
	IssueWontFix    IssueStatus = "wont_fix"
)

// ParseIssueStatus validates an issue status string.
func ParseIssueStatus(s string) (IssueStatus, error) {
	switch IssueStatus(s) {
	case IssueOpen, IssueInProgress, IssueFixed, IssueWontFix:
		return IssueStatus(s), nil
	}
	return "", fmt.Errorf("unknown issue status %q", s)
}

// Terminal reports whether the status ends the workflow.
func (s IssueStatus) Terminal() bool {
	return s == IssueFixed || s == IssueWontFix
}

// Issue is a maintenance problem reported against a machine.
type Issue struct {
	ID          int64       `json:"id"`
	MachineID   int64       `json:"machine_id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Severity    Severity    `json:"severity"`
	Status      IssueStatus `json:"status"`
	ReporterID  int64       `json:"reporter_id"`
	AssigneeID  *int64      `json:"assignee_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Comment is a note on an issue.
type Comment struct {
	ID        int64     `json:"id"`
	IssueID   int64     `json:"issue_id"`
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
