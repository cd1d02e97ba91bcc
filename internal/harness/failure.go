package harness

import (
	stderrors "errors"
	"fmt"

	"github.com/chatreplay/chatreplay/internal/errors"
	"github.com/chatreplay/chatreplay/pkg/types"
)

// FailureKind classifies why a request failed.
type FailureKind string

const (
	FailureTransport  FailureKind = "transport"
	FailureNotFound   FailureKind = "not_found"
	FailureValidation FailureKind = "validation"
)

// Failure is the first failed request of a run.
type Failure struct {
	Kind           FailureKind
	RequestIndex   int
	ConversationID string
	Position       int
	Err            error
}

// Error implements error.
func (f *Failure) Error() string {
	return fmt.Sprintf("request %d (conversation %s, position %d) failed: %s: %v",
		f.RequestIndex, f.ConversationID, f.Position, f.Kind, f.Err)
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Expected returns the expected value of a validation failure, if any.
func (f *Failure) Expected() string {
	return detail(f.Err, "expected")
}

// Actual returns the value the service returned for a validation failure, if any.
func (f *Failure) Actual() string {
	return detail(f.Err, "actual")
}

func detail(err error, name string) string {
	var re *errors.ReplayError
	if !stderrors.As(err, &re) || re.Details == nil {
		return ""
	}
	s, _ := re.Details[name].(string)
	return s
}

func newFailure(req *Request, err error) *Failure {
	kind := FailureTransport
	switch {
	case errors.IsNotFound(err):
		kind = FailureNotFound
	case errors.GetCategory(err) == errors.ErrCategoryValidation:
		kind = FailureValidation
	}
	return &Failure{
		Kind:           kind,
		RequestIndex:   req.Index,
		ConversationID: req.ConversationID,
		Position:       req.Position,
		Err:            err,
	}
}

// Validate checks a response against req. The role must be Assistant and
// the returned (id, content) must be acceptable for the request's key.
func Validate(req *Request, env types.ResponseEnvelope) error {
	if env.Message.Role != types.RoleAssistant {
		return errors.NewValidationError(errors.CodeRoleMismatch, "unexpected response role").
			WithDetails(map[string]interface{}{
				"expected": string(types.RoleAssistant),
				"actual":   string(env.Message.Role),
			})
	}
	got := types.Candidate{ConversationID: env.ID, Content: env.Message.Content}
	if !req.Accepts(got) {
		return errors.NewValidationError(errors.CodeContentMismatch, "unexpected response content").
			WithDetails(map[string]interface{}{
				"expected":    req.Expected.Content,
				"actual":      env.Message.Content,
				"expected_id": req.Expected.ConversationID,
				"actual_id":   env.ID,
			})
	}
	return nil
}
