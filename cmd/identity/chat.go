package identity

import "time"

// RemovedUserName is shown in place of authors whose account is gone.
const RemovedUserName = "Removed user"

// DefaultChannelName is the channel created with every family.
const DefaultChannelName = "General"

// Channel is a family-scoped conversation.
type Channel struct {
	ID        string
	FamilyID  string
	Name      string
	CreatedBy string
	CreatedAt time.Time
}

// Message is a row in a channel. AuthorID keeps pointing at soft-deleted users.
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

// AuthorDisplayName resolves the attribution for a message author.
// A nil or soft-deleted author yields RemovedUserName.
func AuthorDisplayName(author *User) string {
	if author == nil || author.Deleted() {
		return RemovedUserName
	}
	if author.Name == "" {
		return author.Email
	}
	return author.Name
}
