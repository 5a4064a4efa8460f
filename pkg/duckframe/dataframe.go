package duckframe

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"

	"duckframe/internal/bridge"
	"duckframe/internal/engine"
	"duckframe/internal/materialize"
)

// Columns maps each column name to its values in row order.
type Columns = materialize.Columns

// Batches are collected record batches.
type Batches = engine.Batches

// DataFrame is the planned result of Context.SQL. It holds no data until it
// is collected, and may be collected more than once.
type DataFrame struct {
	plan *engine.Plan
}

// Query returns the SQL text the DataFrame was planned from.
func (df *DataFrame) Query() string {
	return df.plan.Query()
}

// Schema returns the output schema.
func (df *DataFrame) Schema(ctx context.Context) (*arrow.Schema, error) {
	return bridge.Drive(df.plan.Schema(ctx))
}

// Collect executes the query and returns its record batches. The caller
// must Release them.
func (df *DataFrame) Collect(ctx context.Context) (*Batches, error) {
	return bridge.Drive(df.plan.Collect(ctx))
}

// ToColumns executes the query and decodes every batch.
func (df *DataFrame) ToColumns(ctx context.Context) (Columns, error) {
	batches, err := df.Collect(ctx)
	if err != nil {
		return nil, err
	}
	defer batches.Release()
	return Decode(batches)
}

// Decode decodes collected batches. The batches stay owned by the caller.
func Decode(batches *Batches) (Columns, error) {
	return materialize.Records(batches.Schema, batches.Records)
}
