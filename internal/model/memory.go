// Package model defines the core transcript and memory data types.
package model

import (
	"slices"
	"time"
)

// Message is one transcript line.
type Message struct {
	Index    int    `json:"index"`
	Speaker  string `json:"speaker"`
	Text     string `json:"text"`
	IsUser   bool   `json:"is_user,omitempty"`
	IsSystem bool   `json:"is_system,omitempty"`
}

// Entry is a named, keyed durable record inside a store.
type Entry struct {
	UID             string            `json:"uid"`
	PrimaryKey      string            `json:"primary_key"`
	Aliases         []string          `json:"aliases,omitempty"`
	Content         string            `json:"content"`
	ActivationDepth int               `json:"activation_depth"`
	Constant        bool              `json:"constant"`
	Disabled        bool              `json:"disabled"`
	Order           int               `json:"order"`
	Position        int               `json:"position"`
	Meta            map[string]string `json:"meta,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Matches reports whether name is the entry's primary key or one of its aliases.
func (e Entry) Matches(name string) bool {
	return e.PrimaryKey == name || slices.Contains(e.Aliases, name)
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	c := e
	c.Aliases = slices.Clone(e.Aliases)
	if e.Meta != nil {
		c.Meta = make(map[string]string, len(e.Meta))
		for k, v := range e.Meta {
			c.Meta[k] = v
		}
	}
	return c
}

// Defaults applied to entries created by an upsert.
const (
	DefaultOrder    = 100
	DefaultPosition = 0
)

// SummaryRecord is one distilled record parsed from a compaction response.
type SummaryRecord struct {
	Ordinal     int     `json:"ordinal"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// Chunk is an indexed slice of an entry's content.
type Chunk struct {
	ID       string `json:"id"`
	EntryUID string `json:"entry_uid"`
	Seq      int    `json:"seq"`
	Text     string `json:"text"`
}
