package composer

import (
	"context"
	"errors"
	"fmt"

	"ShortsComposer-server/media"
)

// Kind 稳定的错误类别
type Kind string

const (
	KindInputMismatch       Kind = "E_INPUT_MISMATCH"
	KindEncodeFailure       Kind = "E_ENCODE_FAILURE"
	KindTimeout             Kind = "E_TIMEOUT"
	KindInternalConsistency Kind = "E_INTERNAL_CONSISTENCY"
	KindPublishFailure      Kind = "E_PUBLISH_FAILURE"
	KindCanceled            Kind = "E_CANCELED"
)

// 阶段名（除 media 包中的渲染阶段外）
const (
	StageValidate = "validate"
	StageResolve  = "resolve"
	StageScratch  = "scratch"
	StageSegment  = "segment"
	StageOutput   = "output"
	StagePublish  = "publish"
)

// Error 合成过程中的错误，始终带有 content id 与阶段名
type Error struct {
	Kind      Kind
	ContentID string
	Stage     string
	Msg       string
	Cause     error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s [content=%s stage=%s]: %s", e.Kind, e.ContentID, e.Stage, e.Msg)
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, stage, msg string, cause error) *Error {
	return &Error{Kind: kind, Stage: stage, Msg: msg, Cause: cause}
}

func inputMismatch(format string, args ...interface{}) *Error {
	return newError(KindInputMismatch, StageValidate, fmt.Sprintf(format, args...), nil)
}

// KindOf 返回错误类别，非 *Error 时返回空串
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// AsError returns (*Error, true) if err is or wraps a composer Error.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// classify 把引擎或上下文错误映射到错误类别，并附上 content id 与阶段
func classify(contentID, stage string, err error) error {
	if err == nil {
		return nil
	}
	if ce, ok := AsError(err); ok {
		if ce.ContentID == "" {
			ce.ContentID = contentID
		}
		if ce.Stage == "" {
			ce.Stage = stage
		}
		return ce
	}

	e := &Error{ContentID: contentID, Stage: stage, Cause: err}
	var cmdErr *media.CommandError
	switch {
	case errors.As(err, &cmdErr) && cmdErr.TimedOut:
		e.Kind, e.Msg = KindTimeout, "media engine call exceeded its time budget"
		e.Stage = cmdErr.Stage
	case errors.As(err, &cmdErr):
		e.Kind, e.Msg = KindEncodeFailure, "media engine call failed"
		e.Stage = cmdErr.Stage
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.Kind, e.Msg = KindCanceled, "composition canceled"
	default:
		e.Kind, e.Msg = KindEncodeFailure, "stage did not produce its artifact"
	}
	return e
}
