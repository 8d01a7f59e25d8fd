package convention

import (
	"fmt"
	"regexp"

	"github.com/shibukawa/sqlconvention/tabledef"
	"github.com/shibukawa/sqlconvention/tablestate"
)

var tablePlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)?)\}`)

// SubstituteTables replaces ${table} and ${schema.table} with the physical name
// of the provisioned instance.
func SubstituteTables(sql string, lookup tablestate.Lookup) (string, error) {
	var firstErr error

	replaced := tablePlaceholder.ReplaceAllStringFunc(sql, func(match string) string {
		if firstErr != nil {
			return match
		}

		handle := tabledef.ParseHandle(tablePlaceholder.FindStringSubmatch(match)[1])

		if lookup == nil {
			firstErr = fmt.Errorf("placeholder %s: %w", match, errNoTables)
			return match
		}

		instance, err := lookup.Get(handle)
		if err != nil {
			firstErr = fmt.Errorf("placeholder %s: %w", match, err)
			return match
		}

		return instance.NameInDatabase
	})

	if firstErr != nil {
		return "", firstErr
	}

	return replaced, nil
}

// References lists the handles used by the placeholders in sql, in order of appearance.
func References(sql string) []tabledef.TableHandle {
	var handles []tabledef.TableHandle

	seen := make(map[tabledef.TableHandle]struct{})

	for _, m := range tablePlaceholder.FindAllStringSubmatch(sql, -1) {
		h := tabledef.ParseHandle(m[1])
		if _, ok := seen[h]; ok {
			continue
		}

		seen[h] = struct{}{}
		handles = append(handles, h)
	}

	return handles
}
