// Package activity stores user activities and keeps their reminders in step
// with every create, edit, completion and delete.
package activity
