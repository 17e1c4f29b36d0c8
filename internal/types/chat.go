package types

// ChatMessage is one entry of a context window as sent to the model
// provider. ImageURL is only set on the new user turn.
type ChatMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
}
