package errordata

import (
	"context"
)

type key struct{}

var errorDataKey key

// ErrorData carries the internal error text of a failed request from the
// handler back to the request logger. It is never sent to the client.
type ErrorData struct {
	Message string
}

func WithErrorData(ctx context.Context) context.Context {
	ed := &ErrorData{Message: ""}
	return context.WithValue(ctx, errorDataKey, ed)
}

func GetErrorData(ctx context.Context) *ErrorData {
	val := ctx.Value(errorDataKey)
	ed, ok := val.(*ErrorData)
	if !ok {
		return nil
	}
	return ed
}

// Record stores err on ctx if the request carries ErrorData.
func Record(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if ed := GetErrorData(ctx); ed != nil {
		ed.SetMessage(err.Error())
	}
}

func (ed *ErrorData) SetMessage(msg string) {
	ed.Message = msg
}

func (ed *ErrorData) HasMessage() bool {
	return ed.Message != ""
}
