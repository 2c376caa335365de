package models

// InboundUpdate is one raw transport delivery. UpdateID is transport-assigned
// and is the dedup key; delivery is at-least-once.
type InboundUpdate struct {
	UpdateID  string `json:"update_id"`
	ChannelID string `json:"channel_id"` // chat id on the messaging platform
	Text      string `json:"text"`
}

// OutboundMessage is one reply queued for delivery.
type OutboundMessage struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
	// Controls are optional structured reply controls (e.g. keyboard rows of
	// menu options) the transport may render natively or fold into the text.
	Controls []string `json:"controls,omitempty"`
}
