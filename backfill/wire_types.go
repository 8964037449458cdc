package backfill

import (
	"github.com/rangekv/go-rangekv/common/types"
	"github.com/rangekv/go-rangekv/history"
	"github.com/rangekv/go-rangekv/mailbox"
	"github.com/rangekv/go-rangekv/rangemap"
	"github.com/rangekv/go-rangekv/store"
)

// Intro1 is the sink's registration message: its current versions, the
// branch history behind them, and the addresses the source should talk back
// on.
type Intro1 struct {
	Region                types.Region                `cbor:"1,keyasint,omitempty"`
	InitialVersion        rangemap.Map[types.Version] `cbor:"2,keyasint,omitempty"`
	InitialVersionHistory []history.Branch            `cbor:"3,keyasint,omitempty"`
	IntroAddr             mailbox.Address             `cbor:"4,keyasint,omitempty"`
	ItemsAddr             mailbox.Address             `cbor:"5,keyasint,omitempty"`
	AckPreItemsAddr       mailbox.Address             `cbor:"6,keyasint,omitempty"`
	AckEndSessionAddr     mailbox.Address             `cbor:"7,keyasint,omitempty"`
}

// Intro2 is the source's reply: the reconciled common version and the
// addresses of the four inbound mailboxes a session is driven through.
type Intro2 struct {
	CommonVersion    rangemap.Map[types.Timestamp] `cbor:"1,keyasint,omitempty"`
	PreItemsAddr     mailbox.Address               `cbor:"2,keyasint,omitempty"`
	BeginSessionAddr mailbox.Address               `cbor:"3,keyasint,omitempty"`
	EndSessionAddr   mailbox.Address               `cbor:"4,keyasint,omitempty"`
	AckItemsAddr     mailbox.Address               `cbor:"5,keyasint,omitempty"`
}

// ItemsMsg carries one committed chunk from source to sink.
type ItemsMsg struct {
	Token    WriteToken                  `cbor:"1,keyasint,omitempty"`
	Metainfo rangemap.Map[types.Version] `cbor:"2,keyasint,omitempty"`
	Chunk    store.ItemSeq               `cbor:"3,keyasint,omitempty"`
}

// AckPreItemsMsg tells the sink how many pre-item bytes the source has
// consumed and discarded.
type AckPreItemsMsg struct {
	Token WriteToken `cbor:"1,keyasint,omitempty"`
	Bytes uint64     `cbor:"2,keyasint,omitempty"`
}

// AckEndSessionMsg confirms an end_session request.
type AckEndSessionMsg struct {
	Token WriteToken `cbor:"1,keyasint,omitempty"`
}

// PreItemsMsg carries a chunk of hints from sink to source.
type PreItemsMsg struct {
	Token WriteToken       `cbor:"1,keyasint,omitempty"`
	Chunk store.PreItemSeq `cbor:"2,keyasint,omitempty"`
}

// BeginSessionMsg starts a session at the given threshold.
type BeginSessionMsg struct {
	Token     WriteToken       `cbor:"1,keyasint,omitempty"`
	Threshold types.RightBound `cbor:"2,keyasint,omitempty"`
}

// EndSessionMsg stops the current session.
type EndSessionMsg struct {
	Token WriteToken `cbor:"1,keyasint,omitempty"`
}

// AckItemsMsg releases item bytes the sink has installed.
type AckItemsMsg struct {
	Token WriteToken `cbor:"1,keyasint,omitempty"`
	Bytes uint64     `cbor:"2,keyasint,omitempty"`
}
