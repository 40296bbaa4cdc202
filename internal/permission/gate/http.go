package gate

import (
	"errors"
	"net/http"

	"permguard/internal/permission/models"
	"permguard/pkg/platform/httputil"
)

// ForbiddenResponse is the body of a 403 written by WriteError.
type ForbiddenResponse struct {
	Error            string        `json:"error"`
	ErrorDescription string        `json:"error_description"`
	Resource         string        `json:"resource"`
	Action           models.Action `json:"action"`
}

// Respond dispatches op and writes the handler's result as JSON with status.
// Nothing is written until the gate has finished, so a result whose data
// access could not be recorded never reaches the client. The dispatch error,
// if any, is rendered and returned for logging.
func Respond(w http.ResponseWriter, r *http.Request, d *Dispatcher, op any, status int) error {
	resp, err := d.Dispatch(r.Context(), op)
	if err != nil {
		WriteError(w, err)
		return err
	}
	httputil.WriteJSON(w, status, resp)
	return nil
}

// WriteError renders a denial as 403 with the denied resource and action,
// and any other error by its domain code.
func WriteError(w http.ResponseWriter, err error) {
	var fe *ForbiddenError
	if errors.As(err, &fe) {
		httputil.WriteJSON(w, http.StatusForbidden, ForbiddenResponse{
			Error:            "forbidden",
			ErrorDescription: ForbiddenMessage,
			Resource:         fe.Resource,
			Action:           fe.Action,
		})
		return
	}
	httputil.WriteError(w, err)
}
