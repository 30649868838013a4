package conversion

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/feichai0017/document-converter/internal/agent/document"
	"github.com/feichai0017/document-converter/internal/utils/validator"
)

// Kind is the top-level failure category reported to users.
type Kind string

const (
	KindValidationRejected      Kind = "ValidationRejected"
	KindResourceExhausted       Kind = "ResourceExhausted"
	KindCollaboratorUnavailable Kind = "CollaboratorUnavailable"
	KindModelAcquisitionFailed  Kind = "ModelAcquisitionFailed"
	KindConversionTimeout       Kind = "ConversionTimeout"
	KindConversionFailed        Kind = "ConversionFailed"
	KindStagingFailed           Kind = "StagingFailed"
)

// Class refines ModelAcquisitionFailed and ConversionFailed.
type Class string

const (
	ClassAccessDenied      Class = "AccessDenied"
	ClassResourceExhausted Class = "ResourceExhausted"
	ClassTimeout           Class = "Timeout"
	ClassUnknown           Class = "Unknown"
)

const (
	hintLocalOnly = "The converter is not installed on this host. Conversion is a local-only feature: run the service where marker is installed."
	hintMemory    = "Not enough memory or accelerator capacity. Try a smaller document or retry when the host is less busy."
	hintTransient = "This may be a transient error. Please retry."
	hintStaging   = "The upload could not be written to temporary storage."
)

// Error is the single error type the workflow returns.
type Error struct {
	Kind  Kind
	Class Class
	Hint  string
	Err   error
}

func (e *Error) Error() string {
	if e.Class != "" && e.Class != ClassUnknown {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of a workflow error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func rejected(r *validator.Rejection) *Error {
	return &Error{Kind: KindValidationRejected, Hint: r.Error(), Err: r}
}

func stagingFailed(err error) *Error {
	return &Error{Kind: KindStagingFailed, Class: ClassUnknown, Hint: hintStaging, Err: err}
}

func resourceExhausted(err error) *Error {
	return &Error{Kind: KindResourceExhausted, Class: ClassResourceExhausted, Hint: hintMemory, Err: err}
}

func timedOut(limit time.Duration) *Error {
	return &Error{
		Kind:  KindConversionTimeout,
		Class: ClassTimeout,
		Hint:  fmt.Sprintf("The conversion did not finish within %s. Try a smaller document or turn off high-accuracy mode.", limit),
		Err:   fmt.Errorf("conversion exceeded %s", limit),
	}
}

// classify picks a Class from sentinel errors first and then from the
// message text.
func classify(err error) Class {
	switch {
	case errors.Is(err, document.ErrAccessDenied):
		return ClassAccessDenied
	case errors.Is(err, document.ErrResourceExhausted):
		return ClassResourceExhausted
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "403") || strings.Contains(msg, "forbidden"):
		return ClassAccessDenied
	case strings.Contains(msg, "memory") || strings.Contains(msg, "cuda"):
		return ClassResourceExhausted
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline"):
		return ClassTimeout
	}
	return ClassUnknown
}

func (s *Service) hintFor(c Class) string {
	switch c {
	case ClassAccessDenied:
		return fmt.Sprintf("The model host refused access (HTTP 403). Hosted deployments may block model downloads by network policy; set HF_TOKEN or contact %s.", s.config.SupportContact)
	case ClassResourceExhausted:
		return hintMemory
	case ClassTimeout:
		return "The converter timed out. Try a smaller document."
	default:
		return hintTransient
	}
}

func (s *Service) acquisitionFailed(err error) *Error {
	if errors.Is(err, document.ErrCollaboratorUnavailable) {
		return &Error{Kind: KindCollaboratorUnavailable, Class: ClassUnknown, Hint: hintLocalOnly, Err: err}
	}
	c := classify(err)
	// a timeout during acquisition is reported as Unknown
	if c == ClassTimeout {
		c = ClassUnknown
	}
	return &Error{Kind: KindModelAcquisitionFailed, Class: c, Hint: s.hintFor(c), Err: err}
}

func (s *Service) conversionFailed(err error) *Error {
	if errors.Is(err, document.ErrCollaboratorUnavailable) {
		return &Error{Kind: KindCollaboratorUnavailable, Class: ClassUnknown, Hint: hintLocalOnly, Err: err}
	}
	c := classify(err)
	return &Error{Kind: KindConversionFailed, Class: c, Hint: s.hintFor(c), Err: err}
}
