package hermes

const (
	SubjectCatalogUpdated = "crucible.catalog.updated"
	SubjectPlanCompleted  = "crucible.blend.plan.completed"

	StreamName   = "CRUCIBLE_EVENTS"
	StreamMaxAge = "720h" // 30 days
)

// StreamSubjects are retained by StreamName.
var StreamSubjects = []string{"crucible.blend.>", "crucible.catalog.>", "crucible.sheet.>"}

func SubjectBlendSolved(runID string) string   { return "crucible.blend." + runID + ".solved" }
func SubjectBlendDeferred(runID string) string { return "crucible.blend." + runID + ".deferred" }

func SubjectSheetCreated(sheetID string) string { return "crucible.sheet." + sheetID + ".created" }
func SubjectSheetDeleted(sheetID string) string { return "crucible.sheet." + sheetID + ".deleted" }
