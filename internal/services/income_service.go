package services

import (
	"context"
	"strings"

	"fleetcost/internal/core"
	"fleetcost/internal/log"
	"fleetcost/internal/repository"
)

type IncomeService struct {
	repos  *repository.Repositories
	logger *log.Logger
}

func NewIncomeService(repos *repository.Repositories, deps Deps) *IncomeService {
	deps = deps.withDefaults()
	return &IncomeService{repos: repos, logger: deps.Logger.WithComponent(log.ComponentIncome)}
}

type RecordIncomeInput struct {
	Amount      core.Money
	Description string
}

func (s *IncomeService) RecordIncome(ctx context.Context, org string, in RecordIncomeInput) (core.Income, error) {
	income := core.Income{
		OrganizationID: org,
		Amount:         in.Amount,
		Description:    strings.TrimSpace(in.Description),
	}
	if err := income.Validate(); err != nil {
		return core.Income{}, err
	}
	created, err := s.repos.Incomes.Create(ctx, income)
	if err != nil {
		return core.Income{}, err
	}
	s.logger.InfoContext(ctx, "Income recorded",
		log.FieldOrganization, org, log.FieldIncomeID, created.ID, log.FieldAmountCents, created.Amount.Cents)
	return created, nil
}

// ListIncomes returns incomes in rng, newest first. A zero range lists all.
func (s *IncomeService) ListIncomes(ctx context.Context, org string, rng core.DateRange) ([]core.Income, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	return s.repos.Incomes.List(ctx, org, rng)
}
