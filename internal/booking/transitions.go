package booking

import "homestyle/internal/model"

// Role is the part an actor plays on a booking.
type Role string

const (
	RoleClient  Role = "client"
	RoleStylist Role = "stylist"
)

// transitions lists, per source status, the reachable statuses and which
// roles may move the booking there. Terminal statuses have no entry.
var transitions = map[model.BookingStatus]map[model.BookingStatus][]Role{
	model.StatusPending: {
		model.StatusConfirmed: {RoleStylist},
		model.StatusCancelled: {RoleStylist, RoleClient},
	},
	model.StatusConfirmed: {
		model.StatusInProgress: {RoleStylist},
		model.StatusCancelled:  {RoleStylist, RoleClient},
	},
	model.StatusInProgress: {
		model.StatusCompleted: {RoleStylist},
	},
}

// CanTransition checks if the status machine has an edge from -> to.
func CanTransition(from, to model.BookingStatus) bool {
	_, ok := transitions[from][to]
	return ok
}

// RoleMayTransition checks if role may take the edge from -> to.
func RoleMayTransition(from, to model.BookingStatus, role Role) bool {
	for _, r := range transitions[from][to] {
		if r == role {
			return true
		}
	}
	return false
}

// RoleOf returns the role userID plays on b, or "" for outsiders.
func RoleOf(b *model.Booking, userID int64) Role {
	switch {
	case userID == 0:
		return ""
	case userID == b.StylistID:
		return RoleStylist
	case userID == b.ClientID:
		return RoleClient
	}
	return ""
}

// needsCutoff reports whether the cancellation policy window applies.
func needsCutoff(from, to model.BookingStatus) bool {
	return from == model.StatusConfirmed && to == model.StatusCancelled
}
