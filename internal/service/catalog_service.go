package service

import (
	"github.com/deskworks/ticket-desk/internal/catalog"
	apperrors "github.com/deskworks/ticket-desk/pkg/util/errorutil"
)

// CatalogService serves queries over a fixed bot catalog.
type CatalogService struct {
	bots []catalog.Bot
	tags []string
}

// NewCatalogService takes ownership of bots; callers must not modify it afterwards.
func NewCatalogService(bots []catalog.Bot) *CatalogService {
	return &CatalogService{bots: bots, tags: catalog.Tags(bots)}
}

// Search runs the catalog query engine.
func (s *CatalogService) Search(params catalog.Params) []catalog.Bot {
	return catalog.Query(s.bots, params)
}

// Tags returns the tag choices, starting with catalog.AllTags.
func (s *CatalogService) Tags() []string {
	return append([]string(nil), s.tags...)
}

// Bot returns one catalog entry.
func (s *CatalogService) Bot(id string) (catalog.Bot, error) {
	bot, ok := catalog.Find(s.bots, id)
	if !ok {
		return catalog.Bot{}, apperrors.NewNotFound("bot", map[string]any{"id": id})
	}
	return bot, nil
}

// Size returns the number of bots in the catalog.
func (s *CatalogService) Size() int {
	return len(s.bots)
}
