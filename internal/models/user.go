package models

// Role values carried by chat participants. Every user holds exactly one.
const (
	RoleTrainDriver  = "train_driver"
	RoleStationAdmin = "station_admin"
)

// User is an identity owned by the external identity provider. The chat core
// never persists users on its own; it only snapshots them into rooms and
// echoes them back on responses.
type User struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	TrainNumber   string `json:"train_number,omitempty"`
	StationCode   string `json:"station_code,omitempty"`
	ContactNumber string `json:"contact_number,omitempty"`
	IsOnline      bool   `json:"is_online"`
	LastSeen      int64  `json:"last_seen"`
}

// CounterpartRole returns the role on the other side of a room.
func CounterpartRole(role string) string {
	if role == RoleTrainDriver {
		return RoleStationAdmin
	}
	return RoleTrainDriver
}
