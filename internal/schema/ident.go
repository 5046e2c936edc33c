package schema

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/lib/pq"
)

// ErrInvalidIdentifier is returned for table, column or index names that
// are not plain lowercase SQL identifiers.
var ErrInvalidIdentifier = errors.New("invalid identifier")

const maxIdentifierLength = 63

var (
	identPattern     = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	colTypePattern   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ ]*(\(\d+(,\s*\d+)?\))?(\[\])?$`)
	errInvalidType   = errors.New("invalid column type")
	errUnsafeDefault = errors.New("unsafe column default")
)

func validateIdent(name string) error {
	if len(name) > maxIdentifierLength || !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

func validateIdents(names ...string) error {
	for _, n := range names {
		if err := validateIdent(n); err != nil {
			return err
		}
	}
	return nil
}

func quote(name string) string {
	return pq.QuoteIdentifier(name)
}

func qualified(namespace, table string) string {
	return quote(namespace) + "." + quote(table)
}
