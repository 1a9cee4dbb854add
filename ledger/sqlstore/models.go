package sqlstore

import (
	"time"

	"gorm.io/gorm"

	"github.com/vipnode/gateway/ledger"
)

type transactionRow struct {
	StateVersion   uint64    `gorm:"primaryKey;autoIncrement:false"`
	PayloadHash    string    `gorm:"size:80;not null"`
	IntentHash     string    `gorm:"size:80;index"`
	RoundTimestamp time.Time `gorm:"index;not null"`
	Epoch          uint64    `gorm:"index:idx_epoch_round"`
	RoundInEpoch   uint64    `gorm:"index:idx_epoch_round"`
	IsStartOfEpoch bool
	Success        bool
	Accounts       []string             `gorm:"serializer:json"`
	VaultChanges   []ledger.VaultChange `gorm:"serializer:json"`
}

func (transactionRow) TableName() string { return "ledger_transactions" }

func newTransactionRow(tx *ledger.Transaction) *transactionRow {
	return &transactionRow{
		StateVersion:   tx.StateVersion,
		PayloadHash:    tx.PayloadHash,
		IntentHash:     tx.IntentHash,
		RoundTimestamp: tx.RoundTimestamp.UTC(),
		Epoch:          tx.Epoch,
		RoundInEpoch:   tx.RoundInEpoch,
		IsStartOfEpoch: tx.IsStartOfEpoch,
		Success:        tx.Success,
		Accounts:       tx.Accounts,
		VaultChanges:   tx.VaultChanges,
	}
}

func (row *transactionRow) transaction() *ledger.Transaction {
	return &ledger.Transaction{
		StateVersion:   row.StateVersion,
		PayloadHash:    row.PayloadHash,
		IntentHash:     row.IntentHash,
		RoundTimestamp: row.RoundTimestamp.UTC(),
		Epoch:          row.Epoch,
		RoundInEpoch:   row.RoundInEpoch,
		IsStartOfEpoch: row.IsStartOfEpoch,
		Success:        row.Success,
		Accounts:       row.Accounts,
		VaultChanges:   row.VaultChanges,
	}
}

// accountTransactionRow links an account to a transaction that affected it.
type accountTransactionRow struct {
	Account        string `gorm:"primaryKey;size:128"`
	StateVersion   uint64 `gorm:"primaryKey;autoIncrement:false"`
	IsStartOfEpoch bool
}

func (accountTransactionRow) TableName() string { return "account_transactions" }

// statusRow is the single row holding ingestion progress.
type statusRow struct {
	ID                     uint `gorm:"primaryKey"`
	Network                string
	TopStateVersion        uint64
	SyncTargetStateVersion uint64
	LastUpdated            time.Time
}

func (statusRow) TableName() string { return "ledger_status" }

const statusRowID = 1

type resourceHistoryRow struct {
	ID                  uint64   `gorm:"primaryKey"`
	EntityID            string   `gorm:"size:128;uniqueIndex:idx_resource_history_entity_version"`
	FromStateVersion    uint64   `gorm:"uniqueIndex:idx_resource_history_entity_version"`
	FungibleIDs         []string `gorm:"serializer:json"`
	FungibleVersions    []uint64 `gorm:"serializer:json"`
	NonFungibleIDs      []string `gorm:"serializer:json"`
	NonFungibleVersions []uint64 `gorm:"serializer:json"`
}

func (resourceHistoryRow) TableName() string { return "entity_resource_aggregate_history" }

type vaultHistoryRow struct {
	ID               uint64   `gorm:"primaryKey"`
	EntityID         string   `gorm:"size:128;uniqueIndex:idx_vault_history_entity_resource_version"`
	ResourceID       string   `gorm:"size:128;uniqueIndex:idx_vault_history_entity_resource_version"`
	FromStateVersion uint64   `gorm:"uniqueIndex:idx_vault_history_entity_resource_version"`
	VaultIDs         []string `gorm:"serializer:json"`
	VaultVersions    []uint64 `gorm:"serializer:json"`
}

func (vaultHistoryRow) TableName() string { return "entity_resource_vault_aggregate_history" }

type balanceRow struct {
	ID               uint64 `gorm:"primaryKey"`
	EntityID         string `gorm:"size:128;uniqueIndex:idx_balance_entity_resource_version"`
	ResourceID       string `gorm:"size:128;uniqueIndex:idx_balance_entity_resource_version"`
	FromStateVersion uint64 `gorm:"uniqueIndex:idx_balance_entity_resource_version"`
	Fungible         bool
	// Balance is a base-10 integer.
	Balance string `gorm:"not null"`
}

func (balanceRow) TableName() string { return "entity_resource_balance_history" }

// Migrate creates or upgrades the replica schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&transactionRow{},
		&accountTransactionRow{},
		&statusRow{},
		&resourceHistoryRow{},
		&vaultHistoryRow{},
		&balanceRow{},
	)
}
