package model

import "time"

// Stylist is the profile of a service provider.
type Stylist struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	TravelRadiusKm float64   `json:"travelRadiusKm"`
	ServiceArea    string    `json:"serviceArea"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Service is a catalog entry offered by one stylist.
type Service struct {
	ID          int64   `json:"id"`
	StylistID   int64   `json:"-"`
	Name        string  `json:"name"`
	Duration    int     `json:"duration"` // minutes
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	IsActive    bool    `json:"-"`
}
