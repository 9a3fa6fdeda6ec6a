package models

// Source is a grounding citation attached to an assistant message.
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}
