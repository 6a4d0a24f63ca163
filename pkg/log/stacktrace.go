package log

import (
	"github.com/cockroachdb/errors"
)

// StacktraceAttrKey is the field name used for extracted stack traces.
const StacktraceAttrKey = "stacktrace"

// extractStacktrace pulls the first safe detail payload (the stack trace,
// for errors built with WithStack) out of a cockroachdb error chain.
func extractStacktrace(err error) string {
	if err == nil {
		return ""
	}
	safeDetails := errors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}
