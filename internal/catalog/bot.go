package catalog

// Bot is a read-only catalog entry.
type Bot struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Short       string   `json:"short" yaml:"short"`
	Description string   `json:"description" yaml:"description"`
	Tags        []string `json:"tags" yaml:"tags"`
	Prefix      string   `json:"prefix" yaml:"prefix"`
	Guilds      int      `json:"guilds" yaml:"guilds"`
	Featured    bool     `json:"featured" yaml:"featured"`
	Invite      string   `json:"invite" yaml:"invite"`
	Logo        string   `json:"logo" yaml:"logo"`
}

// HasTag reports whether tag is one of the bot's tags.
func (b Bot) HasTag(tag string) bool {
	for _, t := range b.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// QuickCommands lists the commands shown on the bot details view.
func (b Bot) QuickCommands() []string {
	return []string{b.Prefix + "help", b.Prefix + "settings", b.Prefix + "invite"}
}
