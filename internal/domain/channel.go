package domain

const MaxChannelNameLen = 36

// ChannelName identifies a voice-enabled channel.
type ChannelName string

// DefaultChannel is used when a join names no channel.
const DefaultChannel ChannelName = "main"

// NormalizeChannel trims over-long names and substitutes the default for an empty one.
func NormalizeChannel(raw string) ChannelName {
	if raw == "" {
		return DefaultChannel
	}
	if len(raw) > MaxChannelNameLen {
		raw = raw[:MaxChannelNameLen]
	}
	return ChannelName(raw)
}
