package domain

type RoomID int64

type Room struct {
	ID          RoomID `json:"id"`
	Title       string `json:"title"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt,omitempty"`
}
