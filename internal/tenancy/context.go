package tenancy

import "context"

type ctxKey string

const schoolKey ctxKey = "assistant.school_id"

// WithSchoolID stores the school id in context.
func WithSchoolID(ctx context.Context, schoolID string) context.Context {
	return context.WithValue(ctx, schoolKey, schoolID)
}

// SchoolIDFromContext extracts the school id if present.
func SchoolIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(schoolKey)
	if val == nil {
		return "", false
	}
	schoolID, ok := val.(string)
	return schoolID, ok && schoolID != ""
}
