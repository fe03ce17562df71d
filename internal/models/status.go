package models

import "time"

// Status is a diagnostic snapshot of the daemon
type Status struct {
	State     string     `json:"state"`
	PID       int        `json:"pid,omitempty"`
	SpawnedAt *time.Time `json:"spawnedAt,omitempty"`
	Terminal  string     `json:"terminal,omitempty"`
	Marker    string     `json:"marker,omitempty"`
	Handle    string     `json:"handle,omitempty"`
	Title     string     `json:"title,omitempty"`
	Backend   string     `json:"backend,omitempty"`
	Connected bool       `json:"connected"`
	Toplevels []Toplevel `json:"toplevels,omitempty"`
}

// Toplevel is one compositor window as reported by status
type Toplevel struct {
	Handle    string `json:"handle"`
	AppID     string `json:"appId"`
	Title     string `json:"title"`
	Minimized bool   `json:"minimized"`
	Activated bool   `json:"activated"`
	Tracked   bool   `json:"tracked"`
}

// Ack is the result of fire-and-forget methods
type Ack struct {
	OK bool `json:"ok"`
}
