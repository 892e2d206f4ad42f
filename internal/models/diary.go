// Package models defines the domain types for krecord.
package models

import "time"

// DiaryEntry is one markdown file under content/.
type DiaryEntry struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Tags        []string       `json:"tags"`
	Attachments []string       `json:"attachments"`
	OccurredAt  time.Time      `json:"occurredAt"`
	ParentID    *string        `json:"parentId"`
	Cover       string         `json:"cover,omitempty"`
	Mood        string         `json:"mood,omitempty"`
	Content     string         `json:"content"`
	Path        string         `json:"path"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// IsChild reports whether the entry has a parent reference.
func (e DiaryEntry) IsChild() bool {
	return e.ParentID != nil && *e.ParentID != ""
}

// DiaryInput is the payload for appending a new entry.
// OccurredAt is kept raw so unparsable values can be recovered by the store.
type DiaryInput struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Tags        []string `json:"tags,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	OccurredAt  string   `json:"occurredAt,omitempty"`
	ParentID    string   `json:"parentId,omitempty"`
	Cover       string   `json:"cover,omitempty"`
	Mood        string   `json:"mood,omitempty"`
	Content     string   `json:"content"`
}

// DiaryPatch is a partial update. Nil fields are left unchanged.
type DiaryPatch struct {
	Title       *string   `json:"title,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Attachments *[]string `json:"attachments,omitempty"`
	OccurredAt  *string   `json:"occurredAt,omitempty"`
	ParentID    Nullable  `json:"parentId"`
	Cover       *string   `json:"cover,omitempty"`
	Mood        *string   `json:"mood,omitempty"`
	Content     *string   `json:"content,omitempty"`
}
