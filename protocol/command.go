package protocol

// MaxCommandPayload is the largest inbound payload of any command
const MaxCommandPayload = SettingsSize

// Command is one decoded inbound request. Data aliases codec storage and is
// valid until the next GetCommand on the same codec.
type Command struct {
	Code byte
	Data []byte
	Size uint16
}

// Reset clears the command back to the empty sentinel so a stale value is
// never taken for a new request.
func (c *Command) Reset() bool {
	c.Code = CommEmpty
	c.Data = nil
	c.Size = 0
	return true
}

// IsEmpty reports whether the command holds the empty sentinel
func (c *Command) IsEmpty() bool {
	return c.Code == CommEmpty
}
