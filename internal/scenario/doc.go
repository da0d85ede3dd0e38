// Package scenario holds the rules shared by everything that produces or
// reviews Gherkin test scenarios.
//
// Parse splits generated text into individual scenario drafts at each
// header line. Categorize assigns a category from an ordered keyword table
// where the first matching rule wins. Validate checks Gherkin structure and
// scores quality. Revise builds the next record in a version chain without
// touching the parent.
//
// Nothing here touches storage; callers persist the records they get back.
package scenario
