// Package ticketing defines the capability set against the external ticket
// system and its Jira implementation.
package ticketing

import "context"

// Client is the set of ticket-system operations the rest of the application
// depends on. Production uses JiraClient; tests substitute a fake.
type Client interface {
	FetchTicket(ctx context.Context, key string) (Ticket, error)
	PostComment(ctx context.Context, key, body string) error
	AttachFile(ctx context.Context, key, path string) error
	TestConnection(ctx context.Context) (string, error)
}

// Ticket is the intermediate representation of an external issue.
type Ticket struct {
	Key         string
	Summary     string
	Description string
	Status      string
	Reporter    *User
	Assignee    *User
	Comments    []Comment
}

// User identifies a person on the ticket system.
type User struct {
	DisplayName string
	Email       string
}

// Comment is one existing comment on a ticket.
type Comment struct {
	Author  string
	Body    string
	Created string
}
