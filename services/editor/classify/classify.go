// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify turns raw service parameters into a typed ServiceRequest
// and decides which scheduling class the request belongs to.
//
// Classification is pure: it never touches documents or sessions.
package classify

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/AleutianAI/AleutianEdit/services/editor/document"
	"github.com/go-playground/validator/v10"
)

// ErrBadRequest is wrapped by every classification failure.
var ErrBadRequest = errors.New("bad request")

// Parameter names accepted by Classify.
const (
	ParamServiceType        = "serviceType"
	ParamResource           = "resource"
	ParamDeltaText          = "deltaText"
	ParamDeltaOffset        = "deltaOffset"
	ParamDeltaReplaceLength = "deltaReplaceLength"
	ParamRequiredStateID    = "requiredStateId"
	ParamCaretOffset        = "caretOffset"
	ParamFullText           = "fullText"
)

// MaxResourceLength bounds resource identifiers.
const MaxResourceLength = 1024

// ServiceKind names a service.
type ServiceKind string

const (
	KindLoad     ServiceKind = "load"
	KindUpdate   ServiceKind = "update"
	KindAssist   ServiceKind = "assist"
	KindValidate ServiceKind = "validate"
	KindSave     ServiceKind = "save"
	KindRevert   ServiceKind = "revert"
)

// Class decides how the scheduler runs a request.
type Class int

const (
	// ClassReadOnly reads a snapshot and never takes the lane.
	ClassReadOnly Class = iota

	// ClassLocking needs exclusive access to the document. Running
	// validation is cancelled before the lane is acquired.
	ClassLocking

	// ClassBackground is an explicit validation request. It is low
	// priority and any locking request preempts it.
	ClassBackground

	// ClassStateless works on a private copy built from fullText. It never
	// touches session state and never starts a validation task.
	ClassStateless
)

// String returns the string representation of the class.
func (c Class) String() string {
	switch c {
	case ClassReadOnly:
		return "read_only"
	case ClassLocking:
		return "locking"
	case ClassBackground:
		return "background"
	case ClassStateless:
		return "stateless"
	default:
		return "unknown"
	}
}

// Delta is the edit carried by update and assist requests.
type Delta struct {
	Text          string
	Offset        int `validate:"min=0"`
	ReplaceLength int `validate:"min=0"`
}

// ToDocument converts to the document package's delta.
func (d Delta) ToDocument() document.Delta {
	return document.Delta{Text: d.Text, Offset: d.Offset, ReplaceLength: d.ReplaceLength}
}

// ServiceRequest is a classified request.
type ServiceRequest struct {
	Kind            ServiceKind `validate:"required,servicekind"`
	Resource        string      `validate:"omitempty,resourcelen"`
	RequiredStateID string      `validate:"omitempty,max=128"`
	Delta           *Delta
	CaretOffset     *int `validate:"omitempty,min=0"`
	FullText        *string

	Class Class

	// Mutating is true when the request may change document text.
	Mutating bool

	// HasSideEffects is true for requests that change session or storage
	// state (update, save, revert, assist carrying a delta).
	HasSideEffects bool
}

// HasRequiredState reports whether the client declared the state it expects.
func (r ServiceRequest) HasRequiredState() bool {
	return r.RequiredStateID != ""
}

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("servicekind", validateServiceKind)
	_ = requestValidate.RegisterValidation("resourcelen", validateResourceLength)
}

func validateResourceLength(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxResourceLength
}

func validateServiceKind(fl validator.FieldLevel) bool {
	switch ServiceKind(fl.Field().String()) {
	case KindLoad, KindUpdate, KindAssist, KindValidate, KindSave, KindRevert:
		return true
	}
	return false
}

// Classify builds a ServiceRequest from raw parameters.
//
// Description:
//
//	Parses integers, assembles the optional delta, validates field
//	constraints and assigns the scheduling class:
//	  - load: read only
//	  - update: locking, mutating (delta or fullText replacement)
//	  - assist: locking; mutating when it carries a delta; stateless with fullText
//	  - validate: background; stateless with fullText
//	  - save: locking, not mutating
//	  - revert: locking, mutating
//
// Inputs:
//
//	params - Raw request parameters keyed by the Param* names.
//
// Outputs:
//
//	ServiceRequest - The classified request.
//	error - Wraps ErrBadRequest on any malformed input.
func Classify(params map[string]string) (ServiceRequest, error) {
	req := ServiceRequest{
		Kind:            ServiceKind(params[ParamServiceType]),
		Resource:        params[ParamResource],
		RequiredStateID: params[ParamRequiredStateID],
	}
	if req.Kind == "" {
		return ServiceRequest{}, badRequest("missing %s", ParamServiceType)
	}

	if full, ok := params[ParamFullText]; ok {
		req.FullText = &full
	}

	delta, err := parseDelta(params)
	if err != nil {
		return ServiceRequest{}, err
	}
	req.Delta = delta

	if raw, ok := params[ParamCaretOffset]; ok {
		caret, err := parseInt(ParamCaretOffset, raw)
		if err != nil {
			return ServiceRequest{}, err
		}
		req.CaretOffset = &caret
	}

	if err := requestValidate.Struct(req); err != nil {
		return ServiceRequest{}, validationError(err)
	}

	if err := assignClass(&req); err != nil {
		return ServiceRequest{}, err
	}

	if req.Resource == "" && req.Class != ClassStateless {
		return ServiceRequest{}, badRequest("missing %s", ParamResource)
	}
	return req, nil
}

func assignClass(req *ServiceRequest) error {
	switch req.Kind {
	case KindLoad:
		req.Class = ClassReadOnly

	case KindUpdate:
		if req.Delta == nil && req.FullText == nil {
			return badRequest("update requires %s or %s", ParamDeltaText, ParamFullText)
		}
		if req.Delta != nil && req.FullText != nil {
			return badRequest("update accepts either %s or %s, not both", ParamDeltaText, ParamFullText)
		}
		req.Class = ClassLocking
		req.Mutating = true
		req.HasSideEffects = true

	case KindAssist:
		if req.CaretOffset == nil {
			return badRequest("assist requires %s", ParamCaretOffset)
		}
		if req.FullText != nil {
			if req.Delta != nil {
				return badRequest("stateless assist does not accept a delta")
			}
			req.Class = ClassStateless
			return nil
		}
		req.Class = ClassLocking
		req.Mutating = req.Delta != nil
		req.HasSideEffects = req.Mutating

	case KindValidate:
		if req.FullText != nil {
			req.Class = ClassStateless
			return nil
		}
		req.Class = ClassBackground

	case KindSave:
		req.Class = ClassLocking
		req.HasSideEffects = true

	case KindRevert:
		req.Class = ClassLocking
		req.Mutating = true
		req.HasSideEffects = true
	}
	return nil
}

// parseDelta returns nil when no delta parameter is present.
func parseDelta(params map[string]string) (*Delta, error) {
	text, hasText := params[ParamDeltaText]
	rawOffset, hasOffset := params[ParamDeltaOffset]
	rawLength, hasLength := params[ParamDeltaReplaceLength]

	if !hasText && !hasOffset && !hasLength {
		return nil, nil
	}
	if !hasText || !hasOffset {
		return nil, badRequest("a delta requires %s and %s", ParamDeltaText, ParamDeltaOffset)
	}

	offset, err := parseInt(ParamDeltaOffset, rawOffset)
	if err != nil {
		return nil, err
	}
	length := 0
	if hasLength {
		if length, err = parseInt(ParamDeltaReplaceLength, rawLength); err != nil {
			return nil, err
		}
	}
	return &Delta{Text: text, Offset: offset, ReplaceLength: length}, nil
}

func parseInt(name, raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("%s must be an integer, got %q", name, raw)
	}
	return v, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return badRequest("%s failed %q validation", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrBadRequest, err)
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}
