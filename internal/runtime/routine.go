// Package runtime defines the routine plugin contract and runs routines as
// tracked executions.
package runtime

import (
	"context"

	"github.com/jonesrussell/north-cloud/scraparr/internal/schema"
)

// Record is one collected item.
type Record = map[string]any

// Params are the invocation parameters of a routine.
type Params = map[string]any

// Routine collects records for one scraper. A fresh instance is created per
// invocation, so routines may keep per-run state in their fields.
type Routine interface {
	Scrape(ctx context.Context, env *Env, params Params) ([]Record, error)
}

// BeforeHook runs before Scrape with the invocation params. An error fails
// the execution.
type BeforeHook interface {
	Before(ctx context.Context, env *Env, params Params) error
}

// AfterHook runs after a successful Scrape.
type AfterHook interface {
	After(ctx context.Context, env *Env, records []Record, params Params) error
}

// ErrorHook observes the failure of Before, Scrape or After. Its own error
// is logged and dropped.
type ErrorHook interface {
	OnError(ctx context.Context, env *Env, err error, params Params) error
}

// ParamValidator checks invocation params against the scraper configuration
// without doing any I/O. Jobs and invocations failing it are rejected before
// an execution exists. Failures should be *domain.ValidationError.
type ParamValidator interface {
	ValidateParams(config map[string]any, params Params) error
}

// TableDeclarer declares the tables the routine writes. They are created in
// the scraper's namespace before Before runs.
type TableDeclarer interface {
	Tables() []schema.TableSpec
}
