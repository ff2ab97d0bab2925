package domain

// ChannelType discriminates provider flavors of a channel connection.
type ChannelType string

// Channel types.
const (
	ChannelTypeWhatsAppOfficial   ChannelType = "whatsapp_official"
	ChannelTypeWhatsAppUnofficial ChannelType = "whatsapp_unofficial"
)

// ConnectionStatus represents the state of a channel connection.
type ConnectionStatus string

// Connection statuses.
const (
	ConnectionStatusActive   ConnectionStatus = "active"
	ConnectionStatusInactive ConnectionStatus = "inactive"
	ConnectionStatusError    ConnectionStatus = "error"
)

// ChannelConnection is a sending account bound to a provider flavor.
// Data carries provider credentials such as phone_number_id and access_token.
type ChannelConnection struct {
	ID          string            `json:"id"`
	CompanyID   *string           `json:"company_id"`
	UserID      string            `json:"user_id"`
	AccountName string            `json:"account_name"`
	ChannelType ChannelType       `json:"channel_type"`
	Status      ConnectionStatus  `json:"status"`
	Data        map[string]string `json:"-"`
}

// IsActive reports whether the connection may send.
func (c *ChannelConnection) IsActive() bool {
	return c != nil && c.Status == ConnectionStatusActive
}
