package domain

import "time"

// UserStatus is the approval state owned by the registration subsystem.
type UserStatus string

const (
	UserPending  UserStatus = "pending"
	UserApproved UserStatus = "approved"
	UserRejected UserStatus = "rejected"
)

// User is the slice of a user profile the ledger reads and writes.
type User struct {
	ID                   string
	Status               UserStatus
	Performance          Performance
	PerformanceUpdatedAt *time.Time
}

// Performance is the summary fed back to the user profile.
type Performance struct {
	TotalProfit     float64 `json:"total_profit"`
	WinPercentage   float64 `json:"win_percentage"`
	TradesCount     int     `json:"trades_count"`
	AverageGain     float64 `json:"average_gain"`
	CompletedTrades int     `json:"completed_trades"`
	WinningTrades   int     `json:"winning_trades"`
}
