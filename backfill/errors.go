package backfill

import "errors"

// ErrProtocol marks a message that violates the backfill wire protocol. A
// protocol violation is fatal for the client that observed it; there is no
// attempt to continue the conversation.
var ErrProtocol = errors.New("backfill protocol violation")
