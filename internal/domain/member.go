package domain

// Member represents a user's presence in a room as seen through the
// roster. No transport or lifecycle logic here.
type Member struct {
	ID     UserID `json:"id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}
