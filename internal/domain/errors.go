package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// RPCFetchError is returned when a chain query fails as a whole.
// Fatal to the affected aggregation pass; callers may isolate it per realm.
type RPCFetchError struct {
	Op       string
	Contract common.Address
	Err      error
}

func (e *RPCFetchError) Error() string {
	return fmt.Sprintf("rpc fetch %s on %s: %v", e.Op, e.Contract.Hex(), e.Err)
}

func (e *RPCFetchError) Unwrap() error { return e.Err }

// LogDecodeError is returned when a single log does not match its event schema.
// Never fatal: the event is skipped.
type LogDecodeError struct {
	Event    string
	TxHash   common.Hash
	LogIndex uint
	Err      error
}

func (e *LogDecodeError) Error() string {
	return fmt.Sprintf("decode %s log %s#%d: %v", e.Event, e.TxHash.Hex(), e.LogIndex, e.Err)
}

func (e *LogDecodeError) Unwrap() error { return e.Err }

// UnconfiguredRealmError is returned when data references a realm absent from configuration.
type UnconfiguredRealmError struct {
	RealmID uint16
}

func (e *UnconfiguredRealmError) Error() string {
	return fmt.Sprintf("realm %d is not configured", e.RealmID)
}

// TransactionRevertError describes a mined transaction with failed status.
type TransactionRevertError struct {
	TxHash      common.Hash
	BlockNumber uint64
}

func (e *TransactionRevertError) Error() string {
	return fmt.Sprintf("transaction reverted: %s (block %d)", e.TxHash.Hex(), e.BlockNumber)
}

// DBPersistenceError wraps a failed document store operation.
type DBPersistenceError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *DBPersistenceError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *DBPersistenceError) Unwrap() error { return e.Err }

// MissingCredentialsError is returned when a required secret or endpoint is absent.
// Publishing aborts before any chain interaction.
type MissingCredentialsError struct {
	Missing []string
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("missing credentials: %s", strings.Join(e.Missing, ", "))
}
