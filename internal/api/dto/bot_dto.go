package dto

// BotSummary is one card in the bot listing.
type BotSummary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Short    string   `json:"short"`
	Tags     []string `json:"tags"`
	Prefix   string   `json:"prefix"`
	Guilds   int      `json:"guilds"`
	Featured bool     `json:"featured"`
	Invite   string   `json:"invite"`
	Logo     string   `json:"logo"`
}

// BotDetailResponse is the details view of a bot.
type BotDetailResponse struct {
	BotSummary
	Description   string   `json:"description"`
	QuickCommands []string `json:"quick_commands"`
}
