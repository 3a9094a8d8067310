// Package transport models the typed message channel between the
// kernel-style external memory manager and the pager core. The spec
// treats the wire format as out of scope, so this package expresses
// only the logical shapes: endpoints, the closed set of inbound
// messages, and the outbound calls the pager makes back.
package transport

import "github.com/google/uuid"

// Endpoint is an opaque, comparable channel handle standing in for a
// kernel port. The default implementation is UUID-backed.
type Endpoint interface {
	Equal(Endpoint) bool
	String() string
}

type uuidEndpoint uuid.UUID

// NewEndpoint returns a fresh, globally unique Endpoint.
func NewEndpoint() Endpoint {
	return uuidEndpoint(uuid.New())
}

func (e uuidEndpoint) Equal(other Endpoint) bool {
	o, ok := other.(uuidEndpoint)
	return ok && uuid.UUID(e) == uuid.UUID(o)
}

func (e uuidEndpoint) String() string {
	return uuid.UUID(e).String()
}

// Access is the requested access mode on a data_request/data_unlock.
type Access uint8

const (
	AccessRead Access = iota
	AccessWrite
)

// ReturnKind mirrors memory_object_return_t.
type ReturnKind uint8

const (
	ReturnNone ReturnKind = iota
	ReturnDirty
	ReturnAll
)

// Range is a half-open byte range [Start, End).
type Range struct {
	Start, End int64
}

// Message is the closed set of inbound message kinds. Every concrete
// type embeds Seq, the per-object sequence number the sequencer
// enforces ordering on.
type Message interface {
	SeqNo() uint64
}

// MessageBase carries the per-object sequence number every inbound
// message embeds; Dispatch's sequencer enforces ordering on it.
type MessageBase struct {
	Seq uint64
}

func (b MessageBase) SeqNo() uint64 { return b.Seq }

// Init is delivered once per lifetime and binds the control/name ports.
type Init struct {
	MessageBase
	Control, Name Endpoint
	PageSize      int
}

// Terminate asks the object to tear down.
type Terminate struct {
	MessageBase
	Control, Name Endpoint
}

// DataRequest is a pagein fault.
type DataRequest struct {
	MessageBase
	Control Endpoint
	Start   int64
	Length  int64
	Access  Access
}

// DataReturn is a pageout (writeback or informational).
type DataReturn struct {
	MessageBase
	Control Endpoint
	Start   int64
	Buf     []byte
	Length  int64
	Dirty   bool
	KCopy   bool
}

// DataUnlock asks the pager to release a range for write.
type DataUnlock struct {
	MessageBase
	Control Endpoint
	Start   int64
	Length  int64
	Access  Access
}

// LockCompleted acknowledges an outstanding lock_request.
type LockCompleted struct {
	MessageBase
	Control Endpoint
	Start   int64
	Length  int64
}

// ChangeCompleted acknowledges an outstanding change_attributes.
type ChangeCompleted struct {
	MessageBase
	MayCache     bool
	CopyStrategy int
}

// Notification is one of the six no-op-but-advance-sequence kernel
// notifications: dead-name, no-senders, send-once, port-destroyed,
// msg-accepted, port-deleted.
type NotificationKind uint8

const (
	NotifyDeadName NotificationKind = iota
	NotifyNoSenders
	NotifySendOnce
	NotifyPortDestroyed
	NotifyMsgAccepted
	NotifyPortDeleted
)

type Notification struct {
	MessageBase
	Kind NotificationKind
}

// Outbox is the set of calls the pager makes back to the transport.
type Outbox interface {
	DataSupply(rng Range, buf []byte, dealloc, precious bool, access Access, reply Endpoint) error
	DataError(rng Range, kind int) error
	DataUnavailable(rng Range) error
	LockRequest(rng Range, ret ReturnKind, shouldFlush bool, lockValue int, reply Endpoint) error
	ChangeAttributes(mayCache bool, copyStrategy int, reply Endpoint) error
}
