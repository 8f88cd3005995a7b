package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Envelope is the wire shape of every backend response.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Block is a chain block summary, newest first in listings.
type Block struct {
	Hash       string  `json:"hash" validate:"required,hexadecimal"`
	Height     int64   `json:"height" validate:"gte=0"`
	Time       int64   `json:"time" validate:"gt=0"`
	TxCount    int     `json:"txCount" validate:"gte=0"`
	Size       int     `json:"size" validate:"gte=0"`
	Difficulty float64 `json:"difficulty" validate:"gte=0"`
	Type       string  `json:"blockType,omitempty" validate:"omitempty,oneof=pow pos"`
}

// Timestamp returns the block time.
func (b Block) Timestamp() time.Time { return time.Unix(b.Time, 0).UTC() }

// BlockKey identifies a block for head comparison.
func BlockKey(b Block) string { return b.Hash }

// MempoolTx is one unconfirmed transaction.
type MempoolTx struct {
	Txid string          `json:"txid" validate:"required,hexadecimal"`
	Size int             `json:"size" validate:"gte=0"`
	Fee  decimal.Decimal `json:"fee"`
	Time int64           `json:"time"`
}

// Mempool is the current mempool summary.
type Mempool struct {
	Size         int         `json:"size" validate:"gte=0"`
	Bytes        int64       `json:"bytes" validate:"gte=0"`
	Usage        int64       `json:"usage" validate:"gte=0"`
	Transactions []MempoolTx `json:"transactions" validate:"dive"`
}

// ActivityEvent is one entry of the live activity feed.
type ActivityEvent struct {
	ID       string          `json:"id" validate:"required"`
	Type     string          `json:"type" validate:"required,oneof=stake block identity transfer"`
	Identity string          `json:"identity,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Height   int64           `json:"height" validate:"gte=0"`
	Time     int64           `json:"time" validate:"gt=0"`
}

// ActivityKey identifies an activity event for head comparison.
func ActivityKey(e ActivityEvent) string { return e.ID }

// TrendingIdentity is a ranked identity in the trending list.
type TrendingIdentity struct {
	Name       string          `json:"name" validate:"required"`
	Address    string          `json:"identityAddress" validate:"required"`
	Rank       int             `json:"rank" validate:"gte=1"`
	Score      float64         `json:"score" validate:"gte=0"`
	StakeCount int             `json:"stakeCount" validate:"gte=0"`
	Rewards    decimal.Decimal `json:"rewards"`
}

// TrendingKey identifies a trending entry for head comparison.
func TrendingKey(t TrendingIdentity) string { return t.Address }

// VerusID is a human-readable blockchain identity.
type VerusID struct {
	Name             string          `json:"name" validate:"required"`
	FullyQualified   string          `json:"fullyQualifiedName,omitempty"`
	Address          string          `json:"identityAddress" validate:"required"`
	PrimaryAddresses []string        `json:"primaryAddresses,omitempty"`
	Balance          decimal.Decimal `json:"balance"`
	BlockHeight      int64           `json:"blockHeight" validate:"gte=0"`
	Featured         bool            `json:"featured,omitempty"`
}

// IdentityKey identifies a VerusID.
func IdentityKey(v VerusID) string { return v.Address }

// StakingLive is the node's current view of an identity's staking.
type StakingLive struct {
	Identity       string           `json:"identity" validate:"required"`
	Balance        *decimal.Decimal `json:"balance,omitempty"`
	Eligible       *decimal.Decimal `json:"eligible,omitempty"`
	StakingEnabled *bool            `json:"stakingEnabled,omitempty"`
	APY            *float64         `json:"apy,omitempty"`
	Height         int64            `json:"height" validate:"gte=0"`
}

// StakingHistorical is the indexed history of an identity's stakes.
type StakingHistorical struct {
	Identity     string           `json:"identity" validate:"required"`
	Balance      *decimal.Decimal `json:"balance,omitempty"`
	TotalRewards *decimal.Decimal `json:"totalRewards,omitempty"`
	StakeCount   *int             `json:"stakeCount,omitempty" validate:"omitempty,gte=0"`
	FirstStake   *int64           `json:"firstStake,omitempty"`
	LastStake    *int64           `json:"lastStake,omitempty"`
	APY          *float64         `json:"apy,omitempty"`
}

// Sync job states reported by the backend.
const (
	SyncIdle      = "idle"
	SyncRunning   = "running"
	SyncPaused    = "paused"
	SyncCompleted = "completed"
	SyncError     = "error"
)

// SyncProgress reports a background synchronization job.
type SyncProgress struct {
	Status                 string  `json:"status" validate:"required,oneof=idle running paused completed error"`
	Total                  int     `json:"total" validate:"gte=0"`
	Processed              int     `json:"processed" validate:"gte=0"`
	Failed                 int     `json:"failed" validate:"gte=0"`
	PercentComplete        float64 `json:"percentComplete" validate:"gte=0,lte=100"`
	Current                string  `json:"current,omitempty"`
	EstimatedTimeRemaining *int64  `json:"estimatedTimeRemaining,omitempty"`
	Error                  string  `json:"error,omitempty"`
}

// Done reports whether the job reached a terminal state. A paused job is
// not done; it may resume.
func (p SyncProgress) Done() bool {
	return p.Status == SyncCompleted || p.Status == SyncError
}
