package models

// VoteType is the direction of the community vote shown next to a thread.
type VoteType string

const (
	VoteUp      VoteType = "up"
	VoteDown    VoteType = "down"
	VoteUnknown VoteType = "unknown"
)

// Glyph returns the emoji used in the digest for the vote direction.
func (v VoteType) Glyph() string {
	switch v {
	case VoteUp:
		return "👍"
	case VoteDown:
		return "👎"
	default:
		return ""
	}
}

// Deal represents one thread scraped from the hot deals listing.
// Every field is a label as shown on the page; nothing is parsed into
// structured values and a missing sub-element yields an empty string.
type Deal struct {
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	Rating    string   `json:"rating"`
	Votes     string   `json:"votes"`
	VoteType  VoteType `json:"vote_type"`
	Author    string   `json:"author"`
}
