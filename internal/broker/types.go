package broker

import "github.com/devconsole/devconsole/internal/protocol"

// Channel is a named publish/subscribe stream. Created on open, destroyed
// when its supplying session disconnects.
type Channel struct {
	ID         protocol.ChannelID
	Name       string
	SuppliedBy protocol.NodeID
}
