package apperr

import "github.com/gin-gonic/gin"

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Respond writes err as the standard error envelope with its Kind's status.
func Respond(c *gin.Context, err error) {
	kind := KindOf(err)
	c.JSON(kind.Status(), ErrorEnvelope{
		Error: APIError{
			Message: Message(err),
			Code:    string(kind),
		},
	})
}

// RespondKind is Respond for failures detected in the handler itself.
func RespondKind(c *gin.Context, kind Kind, msg string) {
	c.JSON(kind.Status(), ErrorEnvelope{
		Error: APIError{Message: msg, Code: string(kind)},
	})
}
