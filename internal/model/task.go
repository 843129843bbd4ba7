package model

import "time"

// Task is a single to-do item.
//
// UserID is the owner, captured from the verified session at creation time
// and never taken from a request body. It cannot change afterwards: every
// read, update and delete is scoped to it.
type Task struct {
	ID          string    `json:"id"          db:"id"          bson:"_id"`
	UserID      string    `json:"userId"      db:"user_id"     bson:"user_id"`
	Title       string    `json:"title"       db:"title"       bson:"title"`
	Description string    `json:"description" db:"description" bson:"description"`
	Completed   bool      `json:"completed"   db:"completed"   bson:"completed"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"  bson:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt"   db:"updated_at"  bson:"updated_at"`
}

// TaskPatch carries a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Completed   *bool
}

// Apply copies every non-nil field of p onto t.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
}
