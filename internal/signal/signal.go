// Package signal standardizes payloads shared between data ingestion and strategy layers.
package signal

import "time"

// Tick is a current-price observation for one symbol.
type Tick struct {
	Symbol string
	Price  float64
	Ts     time.Time
}
