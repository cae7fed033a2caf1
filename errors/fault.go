package errors

import (
	"errors"
)

// Fault type names used on the wire.
const (
	FaultNotFound     = "NotFound"
	FaultAlreadyExist = "AlreadyExist"
	FaultValidation   = "ValidationFailure"
	FaultRemote       = "RemoteError"
)

// Fault is the serialized form of an error crossing the RPC boundary.
// Type selects the error kind and Kwargs carries its fields so the client
// can rebuild the same error value.
type Fault struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Code    int               `json:"code,omitempty"`
	Kwargs  map[string]string `json:"kwargs,omitempty"`
}

// RemoteError is the client-side value for a fault with no matching kind.
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return "remote " + e.Type + ": " + e.Message
}

// ToFault converts err into its wire form. A nil error yields nil.
func ToFault(err error) *Fault {
	if err == nil {
		return nil
	}

	var (
		nf *NotFoundError
		ae *AlreadyExistError
		ve *ValidationError
	)
	switch {
	case errors.As(err, &nf):
		return &Fault{
			Type:    FaultNotFound,
			Message: nf.Error(),
			Code:    nf.ErrorCode(),
			Kwargs:  map[string]string{"kind": string(nf.Kind), "key": nf.Key},
		}
	case errors.As(err, &ae):
		return &Fault{
			Type:    FaultAlreadyExist,
			Message: ae.Error(),
			Code:    ae.ErrorCode(),
			Kwargs:  map[string]string{"model": ae.Model, "name": ae.Name},
		}
	case errors.As(err, &ve):
		return &Fault{
			Type:    FaultValidation,
			Message: ve.Error(),
			Code:    ve.ErrorCode(),
			Kwargs:  map[string]string{"field": ve.Field, "reason": ve.Reason},
		}
	default:
		return &Fault{
			Type:    FaultRemote,
			Message: err.Error(),
			Kwargs:  map[string]string{"class": Classify(err).String()},
		}
	}
}

// FromFault rebuilds the error a fault was produced from.
func FromFault(f *Fault) error {
	if f == nil {
		return nil
	}
	switch f.Type {
	case FaultNotFound:
		return NotFound(Kind(f.Kwargs["kind"]), f.Kwargs["key"])
	case FaultAlreadyExist:
		return AlreadyExist(f.Kwargs["model"], f.Kwargs["name"])
	case FaultValidation:
		return Validation(f.Kwargs["field"], f.Kwargs["reason"])
	default:
		remote := &RemoteError{Type: f.Type, Message: f.Message}
		switch f.Kwargs["class"] {
		case ErrorFatal.String():
			return &ClassifiedError{Class: ErrorFatal, Err: remote}
		case ErrorInvalid.String():
			return &ClassifiedError{Class: ErrorInvalid, Err: remote}
		}
		return remote
	}
}
