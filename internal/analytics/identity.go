package analytics

import (
	"context"
	"database/sql"
	"fmt"
)

// Test-traffic exclusion. Every distinct-user query in the engine applies
// this one predicate so segment counts can never drift apart on it.
const (
	TestEmailPattern = "%@test.lunary.app"
	TestEmailExact   = "test@test.lunary.app"
)

// testTrafficFilter returns the shared exclusion predicate for a
// user_email column, with the pattern and exact match bound at the given
// parameter positions.
func testTrafficFilter(column string, patternParam, exactParam int) string {
	return fmt.Sprintf("(%s IS NULL OR (%s NOT LIKE $%d AND %s != $%d))",
		column, column, patternParam, column, exactParam)
}

// DetectIdentityLinks probes for the optional anonymous-to-user linking
// table. The result is resolved once per run and threaded into every
// snapshot query; the schema is never re-checked mid-run.
func DetectIdentityLinks(ctx context.Context, db *sql.DB) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT to_regclass('analytics_identity_links') IS NOT NULL AS exists`,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("detect identity links: %w", err)
	}
	return exists, nil
}

// resolvedIDExpr builds the SQL expression that maps an event row to a
// single identity, applied identically in every segment query. Priority:
// a real signed-in user_id, then (when the linking table exists) the
// signed-in id linked to the event's anonymous id, then the anonymous id
// itself. SignedInOnly segments stop before the anonymous fallback.
func resolvedIDExpr(hasIdentityLinks, signedInOnly bool) string {
	signedIn := `CASE WHEN ce.user_id IS NOT NULL AND ce.user_id <> '' AND ce.user_id NOT LIKE 'anon:%' THEN ce.user_id END`

	switch {
	case hasIdentityLinks && signedInOnly:
		return fmt.Sprintf("COALESCE(%s, ail.user_id)", signedIn)
	case hasIdentityLinks:
		return fmt.Sprintf("COALESCE(%s, ail.user_id, ce.anonymous_id)", signedIn)
	case signedInOnly:
		return signedIn
	default:
		return fmt.Sprintf("COALESCE(%s, ce.anonymous_id)", signedIn)
	}
}

// identityLinksJoin returns the LEFT JOIN needed by resolvedIDExpr when
// the linking table exists, or an empty string otherwise.
func identityLinksJoin(hasIdentityLinks bool) string {
	if !hasIdentityLinks {
		return ""
	}
	return "LEFT JOIN analytics_identity_links ail ON ce.anonymous_id IS NOT NULL AND ail.anonymous_id = ce.anonymous_id"
}
