package cache

import "fmt"

// BalanceKey names the cached month-end balance of a resident.
func BalanceKey(residentID int64, year, month int) string {
	return fmt.Sprintf("%s%04d-%02d", ResidentPrefix(residentID), year, month)
}

// ResidentPrefix matches every cached balance of a resident.
func ResidentPrefix(residentID int64) string {
	return fmt.Sprintf("balance:%d:", residentID)
}
