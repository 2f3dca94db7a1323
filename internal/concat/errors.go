package concat

import "fmt"

// Kind classifies a concatenation failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNoSegments
	KindSegmentNotFound
	KindCompositionFailed
	KindExportFailed
)

func (k Kind) String() string {
	switch k {
	case KindNoSegments:
		return "no segments"
	case KindSegmentNotFound:
		return "segment not found"
	case KindCompositionFailed:
		return "composition failed"
	case KindExportFailed:
		return "export failed"
	default:
		return "unknown"
	}
}

// Error is every failure Concatenate returns.
type Error struct {
	Kind   Kind
	Path   string
	Reason string
	Err    error
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrNoSegments        = &Error{Kind: KindNoSegments}
	ErrSegmentNotFound   = &Error{Kind: KindSegmentNotFound}
	ErrCompositionFailed = &Error{Kind: KindCompositionFailed}
	ErrExportFailed      = &Error{Kind: KindExportFailed}
	ErrUnknown           = &Error{Kind: KindUnknown}
)

func (e *Error) Error() string {
	msg := "concat: " + e.Kind.String()
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func segmentNotFound(path string) error {
	return &Error{Kind: KindSegmentNotFound, Path: path}
}

func compositionFailed(path, reason string, err error) error {
	return &Error{Kind: KindCompositionFailed, Path: path, Reason: reason, Err: err}
}

func exportFailed(reason string, err error) error {
	return &Error{Kind: KindExportFailed, Reason: reason, Err: err}
}

func unknown(reason string, err error) error {
	return &Error{Kind: KindUnknown, Reason: reason, Err: err}
}
