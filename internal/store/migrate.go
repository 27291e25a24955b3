package store

import "log/slog"

// migrate brings r's on-disk shape up to CurrentSchemaVersion in place.
// Unknown future versions are left untouched and flagged
// LegacyIncompatible so new turns route to a cold-start flow instead of
// touching data this binary doesn't understand.
func migrate(r *Record) {
	switch r.SchemaVersion {
	case CurrentSchemaVersion:
		return
	case "":
		fallthrough
	case "1.0.0":
		migrateV1toV2(r)
		r.SchemaVersion = CurrentSchemaVersion
	default:
		slog.Warn("store: unknown schema version, marking legacy incompatible",
			"conversation_id", r.ConversationID, "schema_version", r.SchemaVersion)
		r.LegacyIncompatible = true
	}
}

// migrateV1toV2 backfills fields introduced in schema 2.0.0 that are
// absent from a 1.0.0 record: Feedback defaulted to none, and
// ProcessedRequestIDs and Transcript initialized to empty slices.
func migrateV1toV2(r *Record) {
	if r.Feedback == "" {
		r.Feedback = FeedbackNone
	}
	if r.ProcessedRequestIDs == nil {
		r.ProcessedRequestIDs = []ProcessedRequest{}
	}
	if r.Transcript == nil {
		r.Transcript = []Event{}
	}
}
