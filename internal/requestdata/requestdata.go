package requestdata

import (
	"context"
)

type key struct{}

var requestDataKey key

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	val := ctx.Value(requestDataKey)
	if rd, ok := val.(*RequestData); ok {
		return rd
	}
	return nil
}

// RequestData is what the request middleware learned about the caller.
// UserID is an opaque client identity and may be empty.
type RequestData struct {
	RequestID string
	UserID    string
}

// UserIDFrom returns the caller identity stored on ctx, or "".
func UserIDFrom(ctx context.Context) string {
	if rd := GetRequestData(ctx); rd != nil {
		return rd.UserID
	}
	return ""
}
