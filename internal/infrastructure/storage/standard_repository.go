package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"MicrowireQC/internal/domain"
	"MicrowireQC/internal/ports"
)

// StandardRepository reads scenario thresholds. The table is maintained by the standards service.
type StandardRepository struct {
	db *sql.DB
}

var _ ports.StandardRepository = (*StandardRepository)(nil)

func NewStandardRepository(db *sql.DB) *StandardRepository {
	return &StandardRepository{db: db}
}

// GetStandard returns domain.ErrStandardNotFound when the scenario has no row.
func (r *StandardRepository) GetStandard(ctx context.Context, scenarioCode string) (domain.ScenarioStandard, error) {
	query, args, err := selectStandard(scenarioCode).ToSql()
	if err != nil {
		return domain.ScenarioStandard{}, fmt.Errorf("build select standard: %w", err)
	}

	std := domain.ScenarioStandard{ScenarioCode: scenarioCode}
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&std.Diameter.Min, &std.Diameter.Max,
		&std.Conductivity.Min, &std.Conductivity.Max,
		&std.Extensibility.Min, &std.Extensibility.Max,
		&std.Weight.Min, &std.Weight.Max,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScenarioStandard{}, fmt.Errorf("%w: %s", domain.ErrStandardNotFound, scenarioCode)
	}
	if err != nil {
		return domain.ScenarioStandard{}, fmt.Errorf("select standard: %w", err)
	}
	return std, nil
}

func selectStandard(scenarioCode string) sq.SelectBuilder {
	return psql.Select(
		"diameter_min", "diameter_max",
		"conductivity_min", "conductivity_max",
		"extensibility_min", "extensibility_max",
		"weight_min", "weight_max",
	).
		From("scenario_standards").
		Where(sq.Eq{"scenario_code": scenarioCode})
}
