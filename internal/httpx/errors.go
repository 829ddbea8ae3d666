package httpx

import (
	"errors"
	"net/http"

	"github.com/livecanasta/live-baskets/internal/live"
	"go.uber.org/zap"
)

type errorResp struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ProductID string `json:"product_id,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
	BasketID  string `json:"basket_id,omitempty"`
	Step      string `json:"step,omitempty"`
	Converted *int   `json:"converted,omitempty"`
}

// statusOf maps an error kind to the HTTP status returned to the operator.
func statusOf(k live.Kind) int {
	switch k {
	case live.KindInsufficientStock, live.KindInvalidState, live.KindInProgress:
		return http.StatusConflict
	case live.KindNotFound:
		return http.StatusNotFound
	case live.KindBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var le *live.Error
	if !errors.As(err, &le) {
		log.Error("unclassified error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "internal", Message: err.Error()})
		return
	}

	resp := errorResp{Error: le.Kind.String(), Message: le.Error()}
	switch le.Kind {
	case live.KindInsufficientStock:
		avail := le.Available
		resp.ProductID, resp.Requested, resp.Available = le.ProductID, le.Requested, &avail
	case live.KindPartialFinalization:
		conv := le.Converted
		resp.BasketID, resp.Step, resp.Converted = le.BasketID, string(le.Step), &conv
	}

	code := statusOf(le.Kind)
	if code >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("kind", le.Kind.String()), zap.Error(err))
	}
	writeJSON(w, code, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResp{Error: "bad_request", Message: msg})
}
