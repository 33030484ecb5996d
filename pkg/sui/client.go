// Package sui provides the narrow chain collaborator the pipeline depends
// on: transaction signing and execution, event queries, and object reads.
// The dispatcher and registry client are written against the Client
// interface; production uses the JSON-RPC implementation, tests use fakes.
package sui

import (
	"context"
	"encoding/json"
)

// Network selects the chain environment.
type Network string

const (
	Testnet Network = "testnet"
	Mainnet Network = "mainnet"
)

// IsValid checks if the network is supported.
func (n Network) IsValid() bool {
	return n == Testnet || n == Mainnet
}

// DefaultRPCURL returns the public fullnode endpoint for the network.
func (n Network) DefaultRPCURL() string {
	if n == Mainnet {
		return "https://fullnode.mainnet.sui.io:443"
	}
	return "https://fullnode.testnet.sui.io:443"
}

// MoveCall describes a single entry-function invocation.
type MoveCall struct {
	Package   string
	Module    string
	Function  string
	TypeArgs  []string
	Args      []any
	GasBudget uint64 // MIST; zero means the client default
}

// ExecuteResult is the outcome of a signed, executed transaction.
type ExecuteResult struct {
	Digest        string
	Status        string // "success" or "failure"
	Error         string // raw execution error when Status is "failure"
	CreatedIDs    []string
	ObjectChanges []ObjectChange
}

// ObjectChange reports one object mutated or created by a transaction.
type ObjectChange struct {
	Type       string `json:"type"` // created, mutated, deleted
	ObjectType string `json:"objectType"`
	ObjectID   string `json:"objectId"`
}

// Event is a single emitted chain event.
type Event struct {
	Type       string          `json:"type"`
	TxDigest   string          `json:"txDigest"`
	ParsedJSON json.RawMessage `json:"parsedJson"`
}

// EventPage is one page of a paged event query.
type EventPage struct {
	Events     []Event
	NextCursor json.RawMessage
	HasNext    bool
}

// ObjectData is a minimal object read.
type ObjectData struct {
	ObjectID string
	Type     string
	Owner    string
	Fields   json.RawMessage
}

// Client is the chain collaborator. Implementations must be safe for
// concurrent use; the dispatcher's wallet queue already guarantees at most
// one in-flight SignAndExecute per wallet, which is what keeps coin
// references from colliding.
type Client interface {
	// Address returns the wallet address this client signs for.
	Address() string

	// SignAndExecute builds, signs, and executes the move call, waiting for
	// finality.
	SignAndExecute(ctx context.Context, call MoveCall) (*ExecuteResult, error)

	// QueryEvents returns a page of events whose type matches eventType.
	// A nil cursor starts from the newest events.
	QueryEvents(ctx context.Context, eventType string, cursor json.RawMessage, limit int) (*EventPage, error)

	// GetObject reads an object's current state.
	GetObject(ctx context.Context, objectID string) (*ObjectData, error)
}
