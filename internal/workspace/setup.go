package workspace

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/model"
)

// StatusColors colours the status column.
var StatusColors = map[model.Status]Color{
	model.StatusInitialContact: {Red: 0.85, Green: 0.92, Blue: 0.98},
	model.StatusCIM:            {Red: 0.80, Green: 0.88, Blue: 0.98},
	model.StatusCIMDD:          {Red: 0.72, Green: 0.84, Blue: 0.96},
	model.StatusMeeting:        {Red: 0.99, Green: 0.95, Blue: 0.80},
	model.StatusLOI:            {Red: 0.98, Green: 0.86, Blue: 0.64},
	model.StatusUnderOffer:     {Red: 0.80, Green: 0.94, Blue: 0.80},
	model.StatusPass:           {Red: 0.90, Green: 0.90, Blue: 0.90},
	model.StatusLost:           {Red: 0.96, Green: 0.80, Blue: 0.80},
}

// Setup prepares the sheet: it writes the header on an empty sheet, checks it
// otherwise, and installs dropdowns, status colours and column protection.
func (r *Reconciler) Setup(ctx context.Context) error {
	rows, err := r.sheet.ReadAll(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 || len(trimTrailingBlank(rows[0])) == 0 {
		if err := r.sheet.WriteHeader(ctx, Header()); err != nil {
			return err
		}
		zap.L().Info("workspace: header written", zap.Int("columns", len(Columns)))
	} else if err := CheckHeader(rows[0]); err != nil {
		return err
	}

	if err := r.sheet.ApplyValidations(ctx, r.Validations()); err != nil {
		return err
	}
	if err := r.sheet.ApplyConditionalFormats(ctx, StatusFormats()); err != nil {
		return err
	}
	if err := r.sheet.ProtectRanges(ctx, SystemColumns()); err != nil {
		return err
	}
	zap.L().Info("workspace: setup complete")
	return nil
}

// Validations returns one strict dropdown per enum column.
func (r *Reconciler) Validations() []Validation {
	var out []Validation
	for i, c := range Columns {
		if c.Kind == KindEnum {
			out = append(out, Validation{Col: i, Values: r.enums[c.Enum]})
		}
	}
	return out
}

// StatusFormats returns the status colour rules in funnel order.
func StatusFormats() []ConditionalFormat {
	col := ColumnIndex("status")
	out := make([]ConditionalFormat, 0, len(model.Statuses))
	for _, s := range model.Statuses {
		out = append(out, ConditionalFormat{Col: col, Value: string(s), Color: StatusColors[s]})
	}
	return out
}

// SystemColumns returns the indexes of protected columns.
func SystemColumns() []int {
	var out []int
	for i, c := range Columns {
		if c.System {
			out = append(out, i)
		}
	}
	return out
}
