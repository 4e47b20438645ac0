package ticket

import "context"

// Service is the catalog query surface the serving layer calls.
type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetTicketType(ctx context.Context, id string) (*TicketType, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListTicketTypes(ctx context.Context, f Filter) ([]TicketType, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) Restock(ctx context.Context, id string, quantity int32) error {
	return s.repo.Restock(ctx, id, quantity)
}
