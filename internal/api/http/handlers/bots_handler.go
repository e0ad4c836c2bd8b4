package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/deskworks/ticket-desk/internal/api/dto"
	"github.com/deskworks/ticket-desk/internal/catalog"
	"github.com/deskworks/ticket-desk/internal/service"
)

// BotsHandler serves the bot catalog.
type BotsHandler struct {
	catalog *service.CatalogService
}

// NewBotsHandler constructs handler.
func NewBotsHandler(catalogService *service.CatalogService) *BotsHandler {
	return &BotsHandler{catalog: catalogService}
}

// ListBots GET /api/bots?q=&tag=&sort=.
func (h *BotsHandler) ListBots(c *fiber.Ctx) error {
	bots := h.catalog.Search(catalog.Params{
		Search: c.Query("q"),
		Tag:    c.Query("tag", catalog.AllTags),
		Sort:   c.Query("sort"),
	})
	items := make([]dto.BotSummary, 0, len(bots))
	for _, b := range bots {
		items = append(items, botSummary(b))
	}
	return c.JSON(fiber.Map{"data": items})
}

// ListTags GET /api/bots/tags.
func (h *BotsHandler) ListTags(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.catalog.Tags()})
}

// GetBot GET /api/bots/:id.
func (h *BotsHandler) GetBot(c *fiber.Ctx) error {
	bot, err := h.catalog.Bot(c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.BotDetailResponse{
		BotSummary:    botSummary(bot),
		Description:   bot.Description,
		QuickCommands: bot.QuickCommands(),
	}})
}

func botSummary(b catalog.Bot) dto.BotSummary {
	tags := b.Tags
	if tags == nil {
		tags = []string{}
	}
	return dto.BotSummary{
		ID:       b.ID,
		Name:     b.Name,
		Short:    b.Short,
		Tags:     tags,
		Prefix:   b.Prefix,
		Guilds:   b.Guilds,
		Featured: b.Featured,
		Invite:   b.Invite,
		Logo:     b.Logo,
	}
}
