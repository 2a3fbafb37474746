package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-authcore"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind      auth.ErrorKind  `json:"kind"`
	Class     auth.ErrorClass `json:"class"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message"`
	Fields    map[string]any  `json:"fields,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

// ErrorHandler maps err onto its class status and a JSON body. Only the
// validation fields of the metadata reach the client.
func (h *Handler) ErrorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		kind, class := auth.KindInternal, auth.ClassInternal
		switch {
		case fiberErr.Code == fiber.StatusNotFound:
			kind, class = auth.KindNotFound, auth.ClassMissing
		case fiberErr.Code < fiber.StatusInternalServerError:
			kind, class = auth.KindValidation, auth.ClassInvalid
		}
		return c.Status(fiberErr.Code).JSON(ErrorBody{Error: ErrorDetail{
			Kind:    kind,
			Class:   class,
			Message: fiberErr.Message,
		}})
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithTextCode(auth.TextCodeInternal).
			WithCode(goerrors.CodeInternal)
	}

	kind := auth.KindOf(err)
	class := auth.ClassOf(err)
	status := class.HTTPStatus()

	log := h.logger.Info
	if status >= fiber.StatusInternalServerError {
		log = h.logger.Error
	}
	log("request failed",
		"path", c.Path(),
		"kind", kind,
		"text_code", richErr.TextCode,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	detail := ErrorDetail{
		Kind:      kind,
		Class:     class,
		Code:      richErr.TextCode,
		Message:   richErr.Message,
		Retryable: auth.Retryable(err),
	}
	if fields, ok := richErr.Metadata["fields"].(map[string]any); ok {
		detail.Fields = fields
	}
	if status >= fiber.StatusInternalServerError && kind == auth.KindInternal {
		detail.Message = "internal error"
	}

	return c.Status(status).JSON(ErrorBody{Error: detail})
}
